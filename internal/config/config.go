// Package config loads the run configuration for swarmproof: the .torrent
// path, the evidence save root, the allow-list file locations, and the
// knobs spec.md §6 lists as externally supplied (piece_download, the
// ipv4/ipv6 list paths). It follows the same key=value-file-plus-env-
// override shape the rest of the omnicloud toolset uses.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds one run's worth of configuration.
type Config struct {
	TorrentPath  string
	SaveRoot     string
	IPv4ListPath string
	IPv6ListPath string

	// PieceDownload, when true, persists piece bytes to disk as part of
	// evidence (spec.md §6 "piece_download: bool").
	PieceDownload bool

	// SkipFullDownload, when true, skips the full-swarm download driver
	// entirely — the config-level twin of fetch's operator-placed
	// .download_skip sentinel, for callers that would rather flip a
	// setting than touch the save root's filesystem.
	SkipFullDownload bool

	MaxPeers   int
	VersionTag string
}

// Load reads key=value pairs from configPath (if present) and then applies
// environment overrides. A missing config file is not an error — callers
// run entirely off defaults and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		SaveRoot:      "./evidence",
		IPv4ListPath:  "ipv4.txt",
		IPv6ListPath:  "ipv6.txt",
		PieceDownload: false,
		MaxPeers:      10,
		VersionTag:    "v1.0",
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg.loadFromEnv()

	if cfg.TorrentPath == "" {
		return nil, fmt.Errorf("torrent_path must be set (in config file, TORRENT_PATH, or as a CLI argument)")
	}

	return cfg, nil
}

func (cfg *Config) loadFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "torrent_path":
			cfg.TorrentPath = value
		case "save_root":
			cfg.SaveRoot = value
		case "ipv4_list":
			cfg.IPv4ListPath = value
		case "ipv6_list":
			cfg.IPv6ListPath = value
		case "piece_download":
			cfg.PieceDownload = parseBool(value)
		case "skip_full_download":
			cfg.SkipFullDownload = parseBool(value)
		case "max_peers":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.MaxPeers = n
			}
		case "version_tag":
			cfg.VersionTag = value
		}
	}

	return scanner.Err()
}

func (cfg *Config) loadFromEnv() {
	if v := os.Getenv("TORRENT_PATH"); v != "" {
		cfg.TorrentPath = v
	}
	if v := os.Getenv("SAVE_ROOT"); v != "" {
		cfg.SaveRoot = v
	}
	if v := os.Getenv("IPV4_LIST"); v != "" {
		cfg.IPv4ListPath = v
	}
	if v := os.Getenv("IPV6_LIST"); v != "" {
		cfg.IPv6ListPath = v
	}
	if v := os.Getenv("PIECE_DOWNLOAD"); v != "" {
		cfg.PieceDownload = parseBool(v)
	}
	if v := os.Getenv("SKIP_FULL_DOWNLOAD"); v != "" {
		cfg.SkipFullDownload = parseBool(v)
	}
	if v := os.Getenv("MAX_PEERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPeers = n
		}
	}
	if v := os.Getenv("VERSION_TAG"); v != "" {
		cfg.VersionTag = v
	}
}

func parseBool(v string) bool {
	return v == "true" || v == "1" || v == "yes"
}
