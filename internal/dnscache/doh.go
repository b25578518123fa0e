package dnscache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/miekg/dns"
)

const dohContentType = "application/dns-message"

// resolveDoH queries a DNS-over-HTTPS endpoint for host's A/AAAA records
// using a hand-built wire-format query, mirroring the POST method of
// RFC 8484 rather than the GET+base64url variant.
func resolveDoH(ctx context.Context, endpoint, host string) ([]net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	a, errA := dohQuery(ctx, endpoint, host, dns.TypeA)
	aaaa, errAAAA := dohQuery(ctx, endpoint, host, dns.TypeAAAA)
	if errA != nil && errAAAA != nil {
		return nil, errA
	}
	ips := append(a, aaaa...)
	if len(ips) == 0 {
		return nil, errNoAnswer
	}
	return ips, nil
}

func dohQuery(ctx context.Context, endpoint, host string, qtype uint16) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	wire, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("dnscache: packing doh query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wire))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", dohContentType)
	req.Header.Set("accept", dohContentType)

	client := &http.Client{Timeout: dialTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dnscache: doh endpoint %s returned status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return nil, fmt.Errorf("dnscache: unpacking doh response: %w", err)
	}

	var ips []net.IP
	for _, rr := range reply.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			ips = append(ips, rec.A)
		case *dns.AAAA:
			ips = append(ips, rec.AAAA)
		}
	}
	return ips, nil
}
