package config_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/open-policy-agent/merge-into-file/internal/config"
)

func TestSecretTyped(t *testing.T) {
	t.Setenv("MERGECTL_TOKEN", "t0ken")

	for _, tc := range []struct {
		note   string
		value  map[string]any
		exp    any
		expErr string
	}{
		{
			note:  "token from env",
			value: map[string]any{"type": "token_auth", "token": "${MERGECTL_TOKEN}"},
			exp:   &config.SecretTokenAuth{Token: "t0ken"},
		},
		{
			note:  "aws",
			value: map[string]any{"type": "aws_auth", "access_key_id": "id", "secret_access_key": "key"},
			exp:   &config.SecretAWS{AccessKeyID: "id", SecretAccessKey: "key"},
		},
		{
			note:  "gcp api key",
			value: map[string]any{"type": "gcp_auth", "api_key": "k"},
			exp:   &config.SecretGCP{APIKey: "k"},
		},
		{
			note:  "azure",
			value: map[string]any{"type": "azure_auth", "account_name": "n", "account_key": "k"},
			exp:   &config.SecretAzure{AccountName: "n", AccountKey: "k"},
		},
		{
			note:   "aws missing key",
			value:  map[string]any{"type": "aws_auth", "access_key_id": "id"},
			expErr: "missing access_key_id or secret_access_key",
		},
		{
			note:   "token missing",
			value:  map[string]any{"type": "token_auth"},
			expErr: "missing token",
		},
		{
			note:   "unknown type",
			value:  map[string]any{"type": "ssh_key"},
			expErr: `unknown secret type "ssh_key"`,
		},
		{
			note:   "empty",
			expErr: "is not configured",
		},
	} {
		t.Run(tc.note, func(t *testing.T) {
			s := config.Secret{Name: "s", Value: tc.value}
			got, err := s.Ref().Resolve(t.Context())
			if tc.expErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.expErr) {
					t.Fatalf("expected error containing %q, got %v", tc.expErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			switch exp := tc.exp.(type) {
			case *config.SecretTokenAuth:
				if *got.(*config.SecretTokenAuth) != *exp {
					t.Fatalf("expected %v, got %v", exp, got)
				}
			case *config.SecretAWS:
				if *got.(*config.SecretAWS) != *exp {
					t.Fatalf("expected %v, got %v", exp, got)
				}
			case *config.SecretGCP:
				if *got.(*config.SecretGCP) != *exp {
					t.Fatalf("expected %v, got %v", exp, got)
				}
			case *config.SecretAzure:
				if *got.(*config.SecretAzure) != *exp {
					t.Fatalf("expected %v, got %v", exp, got)
				}
			}
		})
	}
}

func TestSecretClients(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		w.Write([]byte(strings.Join([]string{r.Header.Get("Authorization"), user, pass, r.Header.Get("X-Tenant")}, "|")))
	}))
	defer ts.Close()

	get := func(t *testing.T, cs config.ClientSecret) string {
		t.Helper()
		client, err := cs.Client(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, ts.URL, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var sb strings.Builder
		if _, err := io.Copy(&sb, resp.Body); err != nil {
			t.Fatal(err)
		}
		if req.Header.Get("Authorization") != "" {
			t.Fatal("expected the original request to be left unmodified")
		}
		return sb.String()
	}

	if got := get(t, &config.SecretTokenAuth{Token: "abc"}); got != "Bearer abc|||" {
		t.Fatalf("unexpected token request: %q", got)
	}

	basic := &config.SecretBasicAuth{Username: "u", Password: "p", Headers: []string{"X-Tenant: acme"}}
	if got := get(t, basic); !strings.HasPrefix(got, "Basic ") || !strings.HasSuffix(got, "|u|p|acme") {
		t.Fatalf("unexpected basic request: %q", got)
	}

	bad := &config.SecretBasicAuth{Headers: []string{"no colon"}}
	if _, err := bad.Client(t.Context()); err == nil {
		t.Fatal("expected header parse error")
	}
}
