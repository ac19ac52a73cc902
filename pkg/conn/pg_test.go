package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostgresDSN(t *testing.T) {
	testCases := []struct {
		desc string
		opt  PostgresOption
		want string
	}{
		{
			desc: "defaults",
			opt:  PostgresOption{Database: "signals"},
			want: "postgres://localhost:5432/signals?sslmode=disable",
		},
		{
			desc: "credentials and params",
			opt: PostgresOption{
				Host: "db", Port: 6432, User: "svc", Password: "pw", Database: "signals",
				SSLMode: "require", Params: map[string]string{"application_name": "pod"},
			},
			want: "postgres://svc:pw@db:6432/signals?application_name=pod&sslmode=require",
		},
		{
			desc: "explicit dsn",
			opt:  PostgresOption{DSN: "host=x dbname=y", Host: "ignored"},
			want: "host=x dbname=y",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.opt.dsn())
		})
	}
	assert.False(t, PostgresOption{}.Enabled())
}
