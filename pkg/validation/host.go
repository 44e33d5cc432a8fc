package validation

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openfroyo/gatewaysetup/pkg/config"
)

// CertificateExpiryWarning is how close to expiry a certificate may get
// before pre-flight warns about it.
const CertificateExpiryWarning = 30 * 24 * time.Hour

const certificateRemediation = "Install a certificate, e.g. certbot certonly --standalone -d <domain>, " +
	"or for testing: openssl req -x509 -newkey rsa:4096 -keyout key.pem -out cert.pem -days 365 -nodes"

// CertificatesCheck warns when the configured TLS files are missing,
// do not form a key pair, or are expired or close to expiry. Certificates
// are optional for the setup itself, so nothing here fails pre-flight.
func CertificatesCheck(certs config.CertificatesConfig, now func() time.Time) Check {
	if now == nil {
		now = time.Now
	}

	return NewCheck("certificates", func(_ context.Context) []Finding {
		if certs.CertFile == "" && certs.KeyFile == "" {
			return []Finding{Pass("certificates", "no certificates configured")}
		}

		var findings []Finding
		for _, f := range []struct{ field, path string }{
			{"certificates.cert_file", certs.CertFile},
			{"certificates.key_file", certs.KeyFile},
		} {
			if f.path == "" {
				findings = append(findings, certificateWarning(f.field, f.field+" is not set"))
				continue
			}
			if _, err := os.Stat(f.path); err != nil {
				findings = append(findings, certificateWarning(f.field, fmt.Sprintf("%s not found", f.path)))
			}
		}
		if len(findings) > 0 {
			return findings
		}

		pair, err := tls.LoadX509KeyPair(certs.CertFile, certs.KeyFile)
		if err != nil {
			return []Finding{certificateWarning("certificates", fmt.Sprintf("unusable certificate: %v", err))}
		}

		leaf := pair.Leaf
		if leaf == nil {
			if leaf, err = x509.ParseCertificate(pair.Certificate[0]); err != nil {
				return []Finding{certificateWarning("certificates.cert_file", fmt.Sprintf("unusable certificate: %v", err))}
			}
		}

		switch remaining := leaf.NotAfter.Sub(now()); {
		case remaining <= 0:
			return []Finding{certificateWarning("certificates.cert_file",
				fmt.Sprintf("certificate %s expired on %s", certs.CertFile, leaf.NotAfter.Format(time.DateOnly)))}
		case remaining < CertificateExpiryWarning:
			return []Finding{certificateWarning("certificates.cert_file",
				fmt.Sprintf("certificate %s expires on %s", certs.CertFile, leaf.NotAfter.Format(time.DateOnly)))}
		}
		return []Finding{Pass("certificates", "certificate valid until "+leaf.NotAfter.Format(time.DateOnly))}
	})
}

func certificateWarning(field, message string) Finding {
	return Finding{
		Check:       "certificates",
		Severity:    SeverityWarn,
		Field:       field,
		Message:     message,
		Remediation: certificateRemediation,
	}
}

// ListenFunc opens a listener; net.Listen in production.
type ListenFunc func(network, address string) (net.Listener, error)

// PortsCheck reports every required port that cannot be bound because
// another process already listens on it.
func PortsCheck(ports []int, listen ListenFunc) Check {
	if listen == nil {
		listen = net.Listen
	}

	return NewCheck("ports", func(_ context.Context) []Finding {
		if len(ports) == 0 {
			return []Finding{Pass("ports", "no required ports declared")}
		}

		var busy, warnings []Finding
		seen := make(map[int]bool, len(ports))
		for _, port := range ports {
			if seen[port] {
				continue
			}
			seen[port] = true

			l, err := listen("tcp", ":"+strconv.Itoa(port))
			if err == nil {
				_ = l.Close()
				continue
			}
			if errors.Is(err, unix.EADDRINUSE) {
				busy = append(busy, Fail("ports", fmt.Sprintf("required_ports.%d", port),
					fmt.Sprintf("port %d already in use", port),
					fmt.Sprintf("Stop the service listening on port %d or change the port", port)))
				continue
			}
			warnings = append(warnings, Warn("ports", fmt.Sprintf("could not check port %d: %v", port, err)))
		}

		if len(busy) > 0 {
			return append(busy, warnings...)
		}
		if len(warnings) > 0 {
			return warnings
		}
		return []Finding{Pass("ports", fmt.Sprintf("%d required port(s) available", len(seen)))}
	})
}
