package main

import (
	"testing"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{port: 8080}, false},
		{"port too low", Config{port: 0}, true},
		{"port too high", Config{port: 70000}, true},
		{"cert without key", Config{port: 8080, tlsCert: "cert.pem"}, true},
		{"key without cert", Config{port: 8080, tlsKey: "key.pem"}, true},
		{"cert and key", Config{port: 8080, tlsCert: "cert.pem", tlsKey: "key.pem"}, false},
	}

	for _, tc := range cases {
		err := tc.cfg.validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: validate() = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestConfigScheme(t *testing.T) {
	plain := Config{}
	if got := plain.scheme(); got != "http" {
		t.Errorf("scheme() = %q, want http", got)
	}

	tls := Config{tlsCert: "cert.pem", tlsKey: "key.pem"}
	if got := tls.scheme(); got != "https" {
		t.Errorf("scheme() = %q, want https", got)
	}
}
