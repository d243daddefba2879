// Command relayca manages the MITM root CA relayproxy uses for TLS
// interception: printing the root certificate for installation in a test
// client's trust store, and minting test leaf certificates. Adapted from
// the teacher's cmd/dummycert.
package main

import (
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/denisvmedia/relayproxy/cert"
)

type cliConfig struct {
	storePath  string
	commonName string
	printRoot  bool
}

func loadConfig() *cliConfig {
	c := new(cliConfig)
	flag.StringVar(&c.storePath, "store", "", "directory holding/receiving the root CA (default: OS config dir)")
	flag.StringVar(&c.commonName, "commonName", "", "mint a leaf certificate for this host/IP instead of printing the root")
	flag.BoolVar(&c.printRoot, "print-root", false, "print the root CA certificate in PEM form")
	flag.Parse() //revive:disable-line:deep-exit -- ok for cmd/*
	return c
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	config := loadConfig()

	ca, err := cert.NewSelfSignCA(config.storePath)
	if err != nil {
		slog.Error("failed to load/create CA", "error", err)
		os.Exit(1)
	}

	switch {
	case config.commonName != "":
		mintLeaf(ca, config.commonName)
	default:
		printRoot(ca)
	}
}

func mintLeaf(ca cert.CA, commonName string) {
	tlsCert, err := ca.GetCert(commonName)
	if err != nil {
		slog.Error("failed to mint leaf certificate", "error", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "%s-cert.pem\n", commonName)
	if err := pem.Encode(os.Stdout, &pem.Block{Type: "CERTIFICATE", Bytes: tlsCert.Certificate[0]}); err != nil {
		slog.Error("failed to encode certificate", "error", err)
		os.Exit(1)
	}
}

func printRoot(ca cert.CA) {
	root := ca.GetRootCA()
	if err := pem.Encode(os.Stdout, &pem.Block{Type: "CERTIFICATE", Bytes: root.Raw}); err != nil {
		slog.Error("failed to encode root certificate", "error", err)
		os.Exit(1)
	}
}
