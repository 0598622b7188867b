package config

import (
	"fmt"
	"os"
)

// buildTLSPair 对应 config.rs 的 build_tls_pair：证书/私钥可以通过文件路径
// 或内联 PEM 字符串二选一提供，两者都缺失时返回 nil，表示未配置证书
// （PublicTLS 为 nil 时 cmd/bouncer 不启动 HTTPS 监听）。
func buildTLSPair(certPath, keyPath, certInline, keyInline string) (*TLSPair, error) {
	certPEM, err := resolvePEM(certPath, certInline)
	if err != nil {
		return nil, fmt.Errorf("certificate: %w", err)
	}
	keyPEM, err := resolvePEM(keyPath, keyInline)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	if certPEM == nil && keyPEM == nil {
		return nil, nil
	}
	if certPEM == nil || keyPEM == nil {
		return nil, fmt.Errorf("certificate and key must both be provided")
	}
	return &TLSPair{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

func resolvePEM(path, inline string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return data, nil
	}
	if inline != "" {
		return []byte(inline), nil
	}
	return nil, nil
}
