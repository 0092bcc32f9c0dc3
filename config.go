//----------------------------------------------------------------------
// This file is part of wifista.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wifista is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wifista is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wifista

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config errors
var (
	errNoSSID     = errors.New("missing SSID")
	errLongSSID   = errors.New("SSID longer than 32 bytes")
	errLongPasswd = errors.New("password longer than 64 bytes")
	errShortPass  = errors.New("password too short for auth threshold")
	errWEPKey     = errors.New("WEP key must be 5 or 13 characters")
	errAuthMode   = errors.New("unknown auth mode")
	errScanMethod = errors.New("unknown scan method")
	errSortMethod = errors.New("unknown sort method")
	errRSSI       = errors.New("minimum RSSI must be negative")
)

//----------------------------------------------------------------------

// AuthMode is the authentication strength of a network. The values are
// ordered from weakest to strongest; a threshold accepts all networks at
// or above its level.
type AuthMode uint8

// authentication modes
const (
	AuthOpen AuthMode = iota
	AuthWEP
	AuthWPAPSK
	AuthWPA2PSK
	AuthWPAWPA2PSK
	AuthWPA2Enterprise
	AuthWPA3PSK
	AuthWPA2WPA3PSK
)

var authNames = []string{
	"open", "wep", "wpa-psk", "wpa2-psk", "wpa-wpa2-psk",
	"wpa2-enterprise", "wpa3-psk", "wpa2-wpa3-psk",
}

// String returns the name of the auth mode.
func (m AuthMode) String() string {
	if int(m) < len(authNames) {
		return authNames[m]
	}
	return fmt.Sprintf("auth(%d)", m)
}

// Accepts returns true if a network with auth mode 'net' satisfies the
// threshold m.
func (m AuthMode) Accepts(net AuthMode) bool {
	return net >= m
}

// ParseAuthMode returns the auth mode with given name.
func ParseAuthMode(s string) (AuthMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range authNames {
		if name == s {
			return AuthMode(i), nil
		}
	}
	return AuthOpen, fmt.Errorf("%w: %q", errAuthMode, s)
}

// UnmarshalYAML reads an auth mode by name.
func (m *AuthMode) UnmarshalYAML(node *yaml.Node) (err error) {
	*m, err = ParseAuthMode(node.Value)
	return
}

// ScanMethod selects how the radio looks for the network.
type ScanMethod uint8

// scan methods
const (
	ScanAll  ScanMethod = iota // scan all channels
	ScanFast                   // connect to first match / last known
)

// String returns the name of the scan method.
func (m ScanMethod) String() string {
	switch m {
	case ScanAll:
		return "all"
	case ScanFast:
		return "fast"
	}
	return fmt.Sprintf("scan(%d)", m)
}

// UnmarshalYAML reads a scan method by name.
func (m *ScanMethod) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(node.Value) {
	case "all":
		*m = ScanAll
	case "fast":
		*m = ScanFast
	default:
		return fmt.Errorf("%w: %q", errScanMethod, node.Value)
	}
	return nil
}

// SortMethod ranks candidate access points found by a scan.
type SortMethod uint8

// sort methods
const (
	SortBySignal   SortMethod = iota // strongest signal first
	SortBySecurity                   // strongest security first
)

// String returns the name of the sort method.
func (m SortMethod) String() string {
	switch m {
	case SortBySignal:
		return "signal"
	case SortBySecurity:
		return "security"
	}
	return fmt.Sprintf("sort(%d)", m)
}

// UnmarshalYAML reads a sort method by name.
func (m *SortMethod) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(node.Value) {
	case "signal":
		*m = SortBySignal
	case "security":
		*m = SortBySecurity
	default:
		return fmt.Errorf("%w: %q", errSortMethod, node.Value)
	}
	return nil
}

//----------------------------------------------------------------------

// Config for joining a network in station mode.
type Config struct {
	SSID          string     `yaml:"ssid"`
	Password      string     `yaml:"password"`
	MinRSSI       int8       `yaml:"min_rssi"`
	AuthThreshold AuthMode   `yaml:"auth_threshold"`
	ScanMethod    ScanMethod `yaml:"scan_method"`
	SortMethod    SortMethod `yaml:"sort_method"`
}

// NewConfig returns a config for the given network with defaults:
// WPA2-PSK threshold (open if no password), full channel scan and
// ranking by signal strength.
func NewConfig(ssid, passwd string) *Config {
	cfg := &Config{
		SSID:          ssid,
		Password:      passwd,
		MinRSSI:       -127,
		AuthThreshold: AuthWPA2PSK,
		ScanMethod:    ScanAll,
		SortMethod:    SortBySignal,
	}
	if len(passwd) == 0 {
		cfg.AuthThreshold = AuthOpen
	}
	return cfg
}

// Validate the config.
func (cfg *Config) Validate() (err error) {
	switch {
	case len(cfg.SSID) == 0:
		err = errNoSSID
	case len(cfg.SSID) > 32:
		err = errLongSSID
	case len(cfg.Password) > 64:
		err = errLongPasswd
	case cfg.AuthThreshold > AuthWPA2WPA3PSK:
		err = errAuthMode
	case cfg.ScanMethod > ScanFast:
		err = errScanMethod
	case cfg.SortMethod > SortBySecurity:
		err = errSortMethod
	case cfg.MinRSSI > 0:
		err = errRSSI
	case cfg.AuthThreshold == AuthWEP:
		if n := len(cfg.Password); n != 5 && n != 13 {
			err = errWEPKey
		}
	case cfg.AuthThreshold > AuthWEP && len(cfg.Password) < 8:
		err = errShortPass
	}
	return
}

//----------------------------------------------------------------------

// Settings of a station node as read from a settings file.
type Settings struct {
	Wifi     Config        `yaml:"wifi"`
	MaxRetry int           `yaml:"max_retry"`
	Timeout  time.Duration `yaml:"timeout"`
	Hostname string        `yaml:"hostname"`
	StaticIP string        `yaml:"static_ip"`
	Port     uint16        `yaml:"port"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	return &Settings{
		Wifi:     *NewConfig("", ""),
		MaxRetry: DefaultMaxRetry,
		Timeout:  DefaultTimeout,
		Hostname: "wifista",
		Port:     564,
	}
}

// ReadSettings from a YAML stream. Missing values keep their defaults.
func ReadSettings(rdr io.Reader) (*Settings, error) {
	s := DefaultSettings()
	if err := yaml.NewDecoder(rdr).Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := s.Wifi.Validate(); err != nil && len(s.Wifi.SSID) > 0 {
		return nil, err
	}
	if s.MaxRetry < 0 {
		return nil, errors.New("negative max_retry")
	}
	return s, nil
}
