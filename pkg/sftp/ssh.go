package sftp

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// dialSSH establishes an SSH connection described by config.
//
// Auth methods are tried in order:
//  1. SSH agent (if SSH_AUTH_SOCK is set)
//  2. Config.KeyFile, or ~/.ssh/id_ed25519, id_ecdsa, id_rsa
//  3. Password (if Config.Password is set)
func dialSSH(ctx context.Context, config *Config) (*ssh.Client, error) {
	userName := config.Username
	if userName == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("failed to determine current user: %w", err)
		}
		userName = u.Username
	}

	port := config.Port
	if port == 0 {
		port = 22
	}

	authMethods := buildAuthMethods(config)
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH auth methods available (set SSH_AUTH_SOCK, provide a key, or password)")
	}

	hostKeyCallback, err := hostKeyCallback(config)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            userName,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH session with %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func buildAuthMethods(config *Config) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			agentClient := agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(agentClient.Signers))
		}
	}

	if config.KeyFile != "" {
		if m := keyFileAuth(config.KeyFile); m != nil {
			methods = append(methods, m)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			if m := keyFileAuth(filepath.Join(home, ".ssh", name)); m != nil {
				methods = append(methods, m)
			}
		}
	}

	if config.Password != "" {
		methods = append(methods, ssh.Password(config.Password))
	}

	return methods
}

func keyFileAuth(path string) ssh.AuthMethod {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return ssh.PublicKeys(signer)
}

// hostKeyCallback verifies against known_hosts. Without a readable
// known_hosts file the key is accepted, like most CLI tools on first
// connection, unless StrictHostKey is set.
func hostKeyCallback(config *Config) (ssh.HostKeyCallback, error) {
	if config.InsecureHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	knownHostsPath := config.KnownHostsFile
	if knownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			if config.StrictHostKey {
				return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
			}
			return ssh.InsecureIgnoreHostKey(), nil
		}
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		if config.StrictHostKey {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", knownHostsPath, err)
		}
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return callback, nil
}
