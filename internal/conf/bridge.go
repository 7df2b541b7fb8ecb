package conf

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"slices"
	"time"
)

// Bridge configures the network transport that carries buffers between
// the bridgetx and bridgerx components of two pipelines.
type Bridge struct {
	Transport string `yaml:"transport"`
	Addr      string `yaml:"addr"`
	KCP       *KCP   `yaml:"kcp"`
	QUIC      *QUIC  `yaml:"quic"`
}

func (b *Bridge) setDefaults() {
	if b.Transport == "" {
		b.Transport = "tcp"
	}
	switch b.Transport {
	case "kcp":
		if b.KCP == nil {
			b.KCP = &KCP{}
		}
		b.KCP.setDefaults()
	case "quic":
		if b.QUIC == nil {
			b.QUIC = &QUIC{}
		}
		b.QUIC.setDefaults()
	}
}

func (b *Bridge) validate() []error {
	var errs []error

	validTransports := []string{"tcp", "kcp", "quic"}
	if !slices.Contains(validTransports, b.Transport) {
		errs = append(errs, fmt.Errorf("bridge transport must be one of: %v", validTransports))
	}

	if b.Addr == "" {
		errs = append(errs, fmt.Errorf("bridge addr is required"))
	} else if _, _, err := net.SplitHostPort(b.Addr); err != nil {
		errs = append(errs, fmt.Errorf("bridge addr must be host:port: %v", err))
	}

	switch b.Transport {
	case "kcp":
		if b.KCP == nil {
			errs = append(errs, fmt.Errorf("bridge.kcp is required when transport is 'kcp'"))
			return errs
		}
		errs = append(errs, b.KCP.validate()...)
	case "quic":
		if b.QUIC == nil {
			errs = append(errs, fmt.Errorf("bridge.quic is required when transport is 'quic'"))
			return errs
		}
		errs = append(errs, b.QUIC.validate()...)
	}

	return errs
}

// KCP tunes the reliable-UDP transport.
type KCP struct {
	Key          string `yaml:"key"`
	Salt         string `yaml:"salt"`
	DataShards   int    `yaml:"data_shards"`
	ParityShards int    `yaml:"parity_shards"`
	NoDelay      int    `yaml:"nodelay"`
	Interval     int    `yaml:"interval"`
	Resend       int    `yaml:"resend"`
	NoCongestion int    `yaml:"no_congestion"`
	SndWnd       int    `yaml:"sndwnd"`
	RcvWnd       int    `yaml:"rcvwnd"`
}

func (k *KCP) setDefaults() {
	if k.Salt == "" {
		k.Salt = "mport-bridge"
	}
	if k.DataShards == 0 {
		k.DataShards = 10
	}
	if k.ParityShards == 0 {
		k.ParityShards = 3
	}
	if k.Interval == 0 {
		k.Interval = 10
	}
	if k.Resend == 0 {
		k.Resend = 2
	}
	if k.SndWnd == 0 {
		k.SndWnd = 1024
	}
	if k.RcvWnd == 0 {
		k.RcvWnd = 1024
	}
}

func (k *KCP) validate() []error {
	var errs []error

	if k.Key == "" {
		errs = append(errs, fmt.Errorf("KCP key is required"))
	}
	if k.DataShards < 1 || k.DataShards > 255 {
		errs = append(errs, fmt.Errorf("KCP data_shards must be between 1 and 255"))
	}
	if k.ParityShards < 0 || k.ParityShards > 255 {
		errs = append(errs, fmt.Errorf("KCP parity_shards must be between 0 and 255"))
	}
	if k.SndWnd < 32 || k.SndWnd > 65535 {
		errs = append(errs, fmt.Errorf("KCP sndwnd must be between 32 and 65535"))
	}
	if k.RcvWnd < 32 || k.RcvWnd > 65535 {
		errs = append(errs, fmt.Errorf("KCP rcvwnd must be between 32 and 65535"))
	}

	return errs
}

// QUIC tunes the QUIC transport.
type QUIC struct {
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	IdleTimeout        int    `yaml:"idle_timeout_s"`
}

func (q *QUIC) setDefaults() {
	if q.IdleTimeout == 0 {
		q.IdleTimeout = 30
	}
	if q.ServerName == "" {
		q.ServerName = "localhost"
	}
	// Self-signed server certificates force the client to skip
	// verification.
	q.InsecureSkipVerify = true
}

func (q *QUIC) validate() []error {
	var errs []error
	if q.IdleTimeout < 1 || q.IdleTimeout > 600 {
		errs = append(errs, fmt.Errorf("QUIC idle_timeout_s must be between 1 and 600"))
	}
	return errs
}

const bridgeALPN = "mport-bridge"

// GenerateTLSConfig builds the TLS configuration for the QUIC transport:
// a self-signed certificate on the server, verification per config on the
// client.
func (q *QUIC) GenerateTLSConfig(role string) (*tls.Config, error) {
	if role == "server" {
		cert, err := generateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{bridgeALPN},
			MinVersion:   tls.VersionTLS13,
		}, nil
	}

	return &tls.Config{
		NextProtos:         []string{bridgeALPN},
		MinVersion:         tls.VersionTLS13,
		ServerName:         q.ServerName,
		InsecureSkipVerify: q.InsecureSkipVerify,
	}, nil
}

func generateSelfSignedCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	return tls.X509KeyPair(certPEM, keyPEM)
}
