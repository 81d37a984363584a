// Package factory provides a default implementation of the client.Factory interface,
// creating filesystem clients based on protocol configuration.
package factory

import (
	"fmt"
	"strconv"
	"sync"

	"digital.vasic.vfs/pkg/client"
	"digital.vasic.vfs/pkg/ftp"
	"digital.vasic.vfs/pkg/local"
	"digital.vasic.vfs/pkg/memory"
	"digital.vasic.vfs/pkg/sftp"
	"digital.vasic.vfs/pkg/smb"
	"digital.vasic.vfs/pkg/webdav"
)

// DefaultFactory implements client.Factory for all supported protocols.
type DefaultFactory struct {
	mu sync.Mutex
	// memory filesystems are shared by name for the lifetime of the factory
	memory map[string]*memory.Client
}

// NewDefaultFactory creates a new default client factory.
func NewDefaultFactory() *DefaultFactory {
	return &DefaultFactory{
		memory: make(map[string]*memory.Client),
	}
}

// CreateClient creates a filesystem client based on the storage configuration.
func (f *DefaultFactory) CreateClient(config *client.StorageConfig) (client.Client, error) {
	switch config.Protocol {
	case "smb":
		smbConfig := &smb.Config{
			Host:     GetStringSetting(config.Settings, "host", ""),
			Port:     GetIntSetting(config.Settings, "port", 445),
			Share:    GetStringSetting(config.Settings, "share", ""),
			Username: GetStringSetting(config.Settings, "username", ""),
			Password: GetStringSetting(config.Settings, "password", ""),
			Domain:   GetStringSetting(config.Settings, "domain", "WORKGROUP"),
		}
		return NewSMBClient(smbConfig), nil

	case "ftp":
		ftpConfig := &ftp.Config{
			Host:     GetStringSetting(config.Settings, "host", ""),
			Port:     GetIntSetting(config.Settings, "port", 21),
			Username: GetStringSetting(config.Settings, "username", ""),
			Password: GetStringSetting(config.Settings, "password", ""),
			Path:     GetStringSetting(config.Settings, "path", ""),
		}
		return ftp.NewFTPClient(ftpConfig), nil

	case "sftp":
		sftpConfig := &sftp.Config{
			Host:            GetStringSetting(config.Settings, "host", ""),
			Port:            GetIntSetting(config.Settings, "port", 22),
			Username:        GetStringSetting(config.Settings, "username", ""),
			Password:        GetStringSetting(config.Settings, "password", ""),
			KeyFile:         GetStringSetting(config.Settings, "key_file", ""),
			KnownHostsFile:  GetStringSetting(config.Settings, "known_hosts_file", ""),
			StrictHostKey:   GetBoolSetting(config.Settings, "strict_host_key", false),
			InsecureHostKey: GetBoolSetting(config.Settings, "insecure_host_key", false),
			Path:            GetStringSetting(config.Settings, "path", ""),
		}
		return sftp.NewSFTPClient(sftpConfig), nil

	case "nfs":
		return f.createNFSClient(config)

	case "webdav":
		webdavConfig := &webdav.Config{
			URL:      GetStringSetting(config.Settings, "url", ""),
			Username: GetStringSetting(config.Settings, "username", ""),
			Password: GetStringSetting(config.Settings, "password", ""),
			Path:     GetStringSetting(config.Settings, "path", ""),
		}
		return webdav.NewWebDAVClient(webdavConfig), nil

	case "local":
		localConfig := &local.Config{
			BasePath: GetStringSetting(config.Settings, "base_path", ""),
		}
		return local.NewLocalClient(localConfig), nil

	case "memory":
		name := GetStringSetting(config.Settings, "name", config.Name)
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.memory[name]; ok {
			return c, nil
		}
		c := memory.NewMemoryClient(&memory.Config{Name: name})
		f.memory[name] = c
		return c, nil

	default:
		return nil, fmt.Errorf("unsupported protocol: %s", config.Protocol)
	}
}

// SupportedProtocols returns the list of supported protocols.
func (f *DefaultFactory) SupportedProtocols() []string {
	return []string{"smb", "ftp", "nfs", "webdav", "local", "sftp", "memory"}
}

// NewSMBClient is a convenience wrapper for creating SMB clients directly.
func NewSMBClient(config *smb.Config) client.Client {
	return smb.NewSMBClient(config)
}

// GetStringSetting extracts a string setting from a settings map.
func GetStringSetting(settings map[string]interface{}, key, defaultValue string) string {
	if val, ok := settings[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultValue
}

// GetIntSetting extracts an int setting from a settings map. TOML decodes
// integers as int64 and JSON as float64; URL query values arrive as strings.
func GetIntSetting(settings map[string]interface{}, key string, defaultValue int) int {
	if val, ok := settings[key]; ok {
		switch num := val.(type) {
		case int:
			return num
		case int64:
			return int(num)
		case float64:
			return int(num)
		case string:
			if parsed, err := strconv.Atoi(num); err == nil {
				return parsed
			}
		}
	}
	return defaultValue
}

// GetBoolSetting extracts a bool setting from a settings map.
func GetBoolSetting(settings map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := settings[key]; ok {
		switch b := val.(type) {
		case bool:
			return b
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed
			}
		}
	}
	return defaultValue
}
