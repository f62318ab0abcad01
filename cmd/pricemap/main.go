// Command pricemap asks the prediction service for a price at a Bristol
// location, applying the same geofence as the map front end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bristolhouse/client"
)

func main() {
	api := flag.String("api", client.DefaultBaseURL, "prediction service base URL")
	lat := flag.Float64("lat", 0, "latitude")
	lon := flag.Float64("lon", 0, "longitude")
	quick := flag.String("quick", "", "quick location: Clifton, Redland, Southville or Bedminster")
	propertyType := flag.String("type", "D", "property type D|S|T|F|O")
	newBuild := flag.String("new-build", "N", "new build Y|N")
	tenure := flag.String("tenure", "F", "tenure F|L")
	year := flag.Int("year", min(time.Now().Year(), client.MaxYear), "transfer year")
	health := flag.Bool("health", false, "only check service health")
	flag.Parse()

	apiClient := client.NewAPIClient(*api)
	ctx := context.Background()

	if *health {
		h, err := apiClient.Health(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("status=%s model=%s\n", h.Status, h.ModelStatus)
		return
	}

	session, err := client.NewSession(apiClient, client.Options{})
	if err != nil {
		fatal(err)
	}

	switch {
	case *quick != "":
		err = session.QuickSelect(*quick)
	case *lat != 0 || *lon != 0:
		err = session.EnterCoordinates(*lat, *lon)
	default:
		names := make([]string, 0, 4)
		for _, q := range session.QuickLocations() {
			names = append(names, q.Name)
		}
		err = fmt.Errorf("choose a location with -lat/-lon or -quick (%s)", strings.Join(names, ", "))
	}
	if err != nil {
		fatal(err)
	}

	for _, set := range []func() error{
		func() error { return session.SetPropertyType(*propertyType) },
		func() error { return session.SetNewBuild(*newBuild) },
		func() error { return session.SetTenure(*tenure) },
		func() error { return session.SetYear(*year) },
	} {
		if err := set(); err != nil {
			fatal(err)
		}
	}

	pred, err := session.Predict(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%s  (%.4f, %.4f) %s, %s, %s, %d\n",
		pred.Response.FormattedPrice,
		pred.Location.Lat, pred.Location.Lon,
		pred.PropertyType.Label(), pred.NewBuild.Label(), pred.Tenure.Label(), pred.Year,
	)
}

func fatal(err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "pricemap: %s (HTTP %d)\n", apiErr.Detail, apiErr.Status)
	} else {
		fmt.Fprintf(os.Stderr, "pricemap: %v\n", err)
	}
	os.Exit(1)
}
