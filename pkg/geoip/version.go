package geoip

// Version is the semantic version of the geoip library.
// It can be overridden at build time using:
//
//	go build -ldflags "-X github.com/CVDpl/go-live-geoip/pkg/geoip.Version=0.2.0"
var Version = "0.1.0"
