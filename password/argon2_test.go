package password

import (
	"errors"
	"strings"
	"testing"
)

// Cheap parameters keep the suite fast; production uses DefaultConfig.
func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T) *Argon2 {
	t.Helper()
	h, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2() error = %v", err)
	}
	return h
}

func TestArgon2_RoundTrip(t *testing.T) {
	h := newTestHasher(t)

	passwords := []string{
		"a",
		"correct horse battery staple",
		"pässwörd-ünïcode",
		strings.Repeat("x", maxPasswordLen),
	}

	for _, pw := range passwords {
		t.Run(pw[:min(len(pw), 16)], func(t *testing.T) {
			hash, err := h.Hash(pw)
			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}
			if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
				t.Errorf("unexpected PHC prefix: %s", hash)
			}
			if !h.Verify(pw, hash) {
				t.Error("Verify() = false, want true")
			}
			if h.Verify(pw+"!", hash) {
				t.Error("Verify() with wrong password = true, want false")
			}
		})
	}
}

func TestArgon2_SaltIsRandom(t *testing.T) {
	h := newTestHasher(t)

	a, _ := h.Hash("same-password")
	b, _ := h.Hash("same-password")
	if a == b {
		t.Error("expected distinct hashes for the same password")
	}
}

func TestArgon2_HashRejects(t *testing.T) {
	h := newTestHasher(t)

	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"empty", "", ErrEmptyPassword},
		{"too long", strings.Repeat("x", maxPasswordLen+1), ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.Hash(tt.password); !errors.Is(err, tt.wantErr) {
				t.Errorf("Hash() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestArgon2_VerifyMalformed(t *testing.T) {
	h := newTestHasher(t)
	valid, err := h.Hash("password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	parts := strings.Split(valid, "$")

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"plaintext", "password"},
		{"bcrypt", "$2a$10$abcdefghijklmnopqrstuv"},
		{"wrong algorithm", strings.Replace(valid, "argon2id", "argon2i", 1)},
		{"wrong version", strings.Replace(valid, "v=19", "v=16", 1)},
		{"missing param", "$argon2id$v=19$m=8192,t=1$" + parts[4] + "$" + parts[5]},
		{"unknown param", "$argon2id$v=19$m=8192,t=1,x=1$" + parts[4] + "$" + parts[5]},
		{"memory below floor", "$argon2id$v=19$m=1024,t=1,p=1$" + parts[4] + "$" + parts[5]},
		{"bad salt encoding", "$argon2id$v=19$m=8192,t=1,p=1$!!!$" + parts[5]},
		{"short key", "$argon2id$v=19$m=8192,t=1,p=1$" + parts[4] + "$AAAA"},
		{"extra segment", valid + "$extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if h.Verify("password", tt.hash) {
				t.Errorf("Verify(%q) = true, want false", tt.hash)
			}
		})
	}
}

func TestArgon2_VerifyAcrossConfigs(t *testing.T) {
	old := newTestHasher(t)
	hash, err := old.Hash("password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	cfg := testConfig()
	cfg.Time = 2
	current, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2() error = %v", err)
	}

	if !current.Verify("password", hash) {
		t.Error("expected hash from older config to verify")
	}
	if !current.NeedsRehash(hash) {
		t.Error("expected NeedsRehash() = true for weaker parameters")
	}
	if old.NeedsRehash(hash) {
		t.Error("expected NeedsRehash() = false for matching parameters")
	}
	if !current.NeedsRehash("garbage") {
		t.Error("expected NeedsRehash() = true for malformed hash")
	}
}

func TestNewArgon2_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"memory", func(c *Config) { c.Memory = 1024 }},
		{"time", func(c *Config) { c.Time = 0 }},
		{"parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"salt", func(c *Config) { c.SaltLength = 8 }},
		{"key", func(c *Config) { c.KeyLength = 8 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := NewArgon2(cfg); err == nil {
				t.Error("NewArgon2() error = nil, want error")
			}
		})
	}

	if _, err := NewArgon2(DefaultConfig()); err != nil {
		t.Errorf("NewArgon2(DefaultConfig()) error = %v", err)
	}
}
