// Package remote fetches the model artifact from the S3 remote that backs
// data version control.
package remote

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Pointer is the content of a "<artifact>.dvc" file.
type Pointer struct {
	Outs []Output `yaml:"outs"`
}

type Output struct {
	MD5  string `yaml:"md5"`
	Size int64  `yaml:"size"`
	Hash string `yaml:"hash"`
	Path string `yaml:"path"`
}

func ReadPointer(path string) (*Pointer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePointer(data)
}

func ParsePointer(data []byte) (*Pointer, error) {
	var p Pointer
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse dvc pointer: %w", err)
	}
	if len(p.Outs) == 0 {
		return nil, errors.New("dvc pointer has no outs")
	}
	if !validMD5(p.Outs[0].MD5) {
		return nil, fmt.Errorf("dvc pointer md5 %q is invalid", p.Outs[0].MD5)
	}
	return &p, nil
}

// MD5 is the checksum of the first output.
func (p *Pointer) MD5() string { return strings.ToLower(p.Outs[0].MD5) }

// ObjectKey is where the remote stores content with the given md5:
// <prefix>/files/md5/<first two hex>/<rest>.
func ObjectKey(prefix, md5 string) string {
	md5 = strings.ToLower(md5)
	key := "files/md5/" + md5[:2] + "/" + md5[2:]
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func validMD5(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
