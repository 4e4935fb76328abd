package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakCredentialScoreThreshold = 3

// IsWeakCredential reports whether a node credential is easy to guess.
// Empty credentials are rejected by Validate, so they are not weak here.
func IsWeakCredential(credential string) bool {
	if credential == "" {
		return false
	}
	result := zxcvbn.PasswordStrength(credential, nil)
	return result.Score < weakCredentialScoreThreshold
}

// WeakCredentials returns the names of nodes whose credential is weak.
func WeakCredentials(s *ServerConfig) []string {
	if s == nil {
		return nil
	}
	var weak []string
	for _, node := range s.Nodes {
		if IsWeakCredential(node.Authorization) {
			weak = append(weak, node.Name)
		}
	}
	return weak
}
