package httpfetch

import (
	"crypto/x509"
	"fmt"
)

func certPoolFromPEM(pemBlob []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBlob) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	return pool, nil
}
