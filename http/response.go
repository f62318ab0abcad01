package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"bristolhouse/serving"
)

// errorResponse 错误响应体
type errorResponse struct {
	Detail string `json:"detail"`
}

// writeJSON 写入JSON响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// writeError 按服务错误类型映射HTTP状态码
func writeError(w http.ResponseWriter, err error) {
	status, detail := errorStatus(err)
	writeDetail(w, status, detail)
}

func errorStatus(err error) (int, string) {
	var svcErr *serving.Error
	if errors.As(err, &svcErr) {
		return svcErr.HTTPStatus(), svcErr.Message
	}
	return http.StatusInternalServerError, "internal server error"
}
