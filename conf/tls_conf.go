package conf

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
)

type TLSConf struct {
	Enabled              bool   `help:"is TLS enabled?" default:"false"`
	ServerCertFile       string `help:"path to tls server certificate file in pem format"`
	ServerPrivateKeyFile string `help:"path to tls server private key file in pem format"`
	ClientCertFile       string `help:"path to pem file of client certificates or CAs trusted for client authentication"`
	ClientAuthType       string `help:"client certificate authentication mode. one of: no-client-cert, request-client-cert, require-any-client-cert, verify-client-cert-if-given, require-and-verify-client-cert"`
}

func (t *TLSConf) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.ServerCertFile == "" || t.ServerPrivateKeyFile == "" {
		return errors.New("invalid configuration - tls-server-cert-file and tls-server-private-key-file must be specified when tls is enabled")
	}
	if t.ClientAuthType != "" {
		if _, ok := clientAuthMapping[t.ClientAuthType]; !ok {
			return errors.Errorf("tls client auth type configuration is invalid: '%s'", t.ClientAuthType)
		}
	}
	return nil
}

// ToGoTLSConfig returns nil when TLS is disabled.
func (t *TLSConf) ToGoTLSConfig() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	kp, err := tls.LoadX509KeyPair(t.ServerCertFile, t.ServerPrivateKeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load server key pair")
	}
	tlsConfig.Certificates = []tls.Certificate{kp}
	if t.ClientCertFile != "" {
		pool, err := loadCertPool(t.ClientCertFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		clAuthType := tls.RequireAndVerifyClientCert
		if t.ClientAuthType != "" {
			var ok bool
			clAuthType, ok = clientAuthMapping[t.ClientAuthType]
			if !ok {
				return nil, errors.Errorf("tls client auth type configuration is invalid: '%s'", t.ClientAuthType)
			}
		}
		tlsConfig.ClientAuth = clAuthType
	} else {
		tlsConfig.ClientAuth = tls.NoClientCert
	}
	return tlsConfig, nil
}

var clientAuthMapping = map[string]tls.ClientAuthType{
	"no-client-cert":                 tls.NoClientCert,
	"request-client-cert":            tls.RequestClientCert,
	"require-any-client-cert":        tls.RequireAnyClientCert,
	"verify-client-cert-if-given":    tls.VerifyClientCertIfGiven,
	"require-and-verify-client-cert": tls.RequireAndVerifyClientCert,
}

type ClientTLSConf struct {
	Enabled              bool   `help:"is client TLS enabled?" default:"false"`
	ServerCertFile       string `help:"path to pem file of server certificates or CAs to trust"`
	ClientCertFile       string `help:"path to tls client certificate file in pem format"`
	ClientPrivateKeyFile string `help:"path to tls client private key file in pem format"`
	ServerName           string `help:"host name the server certificate must be valid for"`
	NoVerify             bool   `help:"disable server certificate verification. use only for testing"`
}

func (c *ClientTLSConf) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !c.NoVerify && c.ServerName == "" {
		return errors.New("invalid configuration - tls-server-name missing, it is required unless tls-no-verify is set")
	}
	if (c.ClientCertFile == "") != (c.ClientPrivateKeyFile == "") {
		return errors.New("invalid configuration - tls-client-cert-file and tls-client-private-key-file must be set together")
	}
	return nil
}

// ToGoTLSConfig returns nil when TLS is disabled.
func (c *ClientTLSConf) ToGoTLSConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	tlsConfig := &tls.Config{ // nolint: gosec
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.NoVerify,
	}
	if c.ServerCertFile != "" {
		pool, err := loadCertPool(c.ServerCertFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}
	if c.ClientCertFile != "" {
		kp, err := tls.LoadX509KeyPair(c.ClientCertFile, c.ClientPrivateKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load client key pair")
		}
		tlsConfig.Certificates = []tls.Certificate{kp}
	}
	return tlsConfig, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	certs, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(certs); !ok {
		return nil, errors.Errorf("failed to append certs from %s - is pem file invalid?", path)
	}
	return pool, nil
}
