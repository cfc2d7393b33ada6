package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"netpulse/internal/config"
)

func TestFilterAllow(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.Config
		domain string
		rtype  string
		want   bool
	}{
		{
			name:   "empty lists admit everything",
			domain: "example.com", rtype: "xhr",
			want: true,
		},
		{
			name:   "excluded domain",
			cfg:    config.Config{ExcludeDomains: []string{"tracker.example"}},
			domain: "tracker.example", rtype: "xhr",
			want: false,
		},
		{
			name:   "exclude wins over include",
			cfg:    config.Config{IncludeDomains: []string{"example.com"}, ExcludeDomains: []string{"example.com"}},
			domain: "example.com", rtype: "xhr",
			want: false,
		},
		{
			name:   "include list admits member",
			cfg:    config.Config{IncludeDomains: []string{"example.com"}},
			domain: "example.com", rtype: "xhr",
			want: true,
		},
		{
			name:   "include list rejects non-member",
			cfg:    config.Config{IncludeDomains: []string{"example.com"}},
			domain: "other.com", rtype: "xhr",
			want: false,
		},
		{
			name:   "excluded type",
			cfg:    config.Config{ExcludeTypes: []string{"image"}},
			domain: "example.com", rtype: "image",
			want: false,
		},
		{
			name:   "type exclude wins over type include",
			cfg:    config.Config{IncludeTypes: []string{"image"}, ExcludeTypes: []string{"image"}},
			domain: "example.com", rtype: "image",
			want: false,
		},
		{
			name:   "include type rejects other types",
			cfg:    config.Config{IncludeTypes: []string{"xhr"}},
			domain: "example.com", rtype: "script",
			want: false,
		},
		{
			name: "domain allowed but type excluded",
			cfg: config.Config{
				IncludeDomains: []string{"example.com"},
				ExcludeTypes:   []string{"image"},
			},
			domain: "example.com", rtype: "image",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(&tt.cfg)
			assert.Equal(t, tt.want, f.Allow(tt.domain, tt.rtype))
		})
	}
}
