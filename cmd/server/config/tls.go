package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

func loadRedisTLS() (*tls.Config, error) {
	caFile := env("REDIS_TLS_CA_FILE")
	certFile := env("REDIS_TLS_CERT_FILE")
	keyFile := env("REDIS_TLS_KEY_FILE")
	serverName := env("REDIS_TLS_SERVER_NAME")
	skipVerify := env("REDIS_TLS_INSECURE_SKIP_VERIFY")
	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && skipVerify == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	insecure, err := optionalBool("REDIS_TLS_INSECURE_SKIP_VERIFY")
	if err != nil {
		return nil, err
	}
	tlsConfig.InsecureSkipVerify = insecure

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
