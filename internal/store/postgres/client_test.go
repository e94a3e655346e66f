package postgres

import "testing"

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg: ClientConfig{
				DSN:  "postgres://u:p@db:5432/relayd",
				Host: "ignored",
			},
			want: "postgres://u:p@db:5432/relayd",
		},
		{
			name: "built from parts",
			cfg: ClientConfig{
				Host:     "localhost",
				Port:     5433,
				Database: "relayd",
				User:     "relay",
				Password: "pw",
				SSLMode:  "require",
			},
			want: "postgres://relay:pw@localhost:5433/relayd?sslmode=require",
		},
		{
			name: "defaults for port and sslmode",
			cfg: ClientConfig{
				Host:     "localhost",
				Database: "relayd",
				User:     "postgres",
			},
			want: "postgres://postgres:@localhost:5432/relayd?sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}
