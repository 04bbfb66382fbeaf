package nodeselector

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/samber/lo"
)

// nodesFile covers both the live node list and the trusted bootstrap config.
type nodesFile struct {
	ActiveNodes           []string `json:"active_nodes"`
	TrustedBootstrapPeers map[string]struct {
		LastKnownAddress string `json:"last_known_address"`
	} `json:"trusted_bootstrap_peers"`
}

// NormalizeURL adds a missing http scheme and drops a trailing slash. Empty input stays empty.
func NormalizeURL(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return strings.TrimRight(address, "/")
}

// Candidates merges the default URL with every endpoint listed in the node files.
func (s *Selector) Candidates(ctx context.Context) []string {
	urls := []string{s.config.DefaultURL}
	for _, file := range []string{s.config.LiveNodesFile, s.config.BootstrapFile} {
		if file == "" {
			continue
		}
		found, err := readNodesFile(file)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.WarnContext(ctx, "Can't read node list file", slogx.String("file", file), slogx.Error(err))
			}
			continue
		}
		urls = append(urls, found...)
	}

	urls = lo.Map(urls, func(u string, _ int) string { return NormalizeURL(u) })
	urls = lo.Compact(urls)
	return lo.Uniq(urls)
}

func readNodesFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var f nodesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "invalid node list json")
	}
	urls := append([]string{}, f.ActiveNodes...)
	for _, peer := range f.TrustedBootstrapPeers {
		urls = append(urls, peer.LastKnownAddress)
	}
	return urls, nil
}
