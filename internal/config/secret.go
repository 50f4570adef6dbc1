package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/swaggest/jsonschema-go"
)

// Secret defines the configuration for credentials used by mergectl to fetch
// remote sources and to upload merged files.
//
// Each secret is stored as a map of key-value pairs. Secret type is also declared in the config.
// For example, a secret for bearer token authentication might look like this (in YAML):
//
// cdn:
//
//	type: token_auth
//	token: ${CDN_TOKEN}
//
// Secrets may refer to environment variables using the ${VAR_NAME} syntax, as above.
//
// Currently the following secret types are supported:
//
//   - "aws_auth" for AWS authentication. Values for keys "access_key_id", "secret_access_key", and optional "session_token" are expected.
//   - "azure_auth" for Azure authentication. Values for keys "account_name" and "account_key" are expected.
//   - "basic_auth" for HTTP basic authentication. Values for keys "username" and "password" are expected.
//     "headers" (string array of "Name: value") is optional and sets additional headers on the HTTP requests.
//   - "gcp_auth" for Google Cloud authentication. Value for a key "api_key" or "credentials" is expected.
//   - "token_auth" for HTTP bearer token authentication. Value for a key "token" is expected.
type Secret struct {
	Name  string         `json:"-"`
	Value map[string]any `json:"-"`
}

// ClientSecret is implemented by secrets that authenticate HTTP requests.
type ClientSecret interface {
	Client(ctx context.Context) (*http.Client, error)
}

func (s *Secret) Ref() *SecretRef {
	return &SecretRef{Name: s.Name, value: s}
}

func (*Secret) PrepareJSONSchema(schema *jsonschema.Schema) error {
	schema.Type = nil
	schema.AddType(jsonschema.Object)
	return nil
}

func (s *Secret) MarshalYAML() (any, error) {
	if len(s.Value) == 0 {
		return map[string]any{}, nil
	}
	return s.Value, nil
}

func (s *Secret) MarshalJSON() ([]byte, error) {
	v, err := s.MarshalYAML()
	if err != nil {
		return nil, err
	}

	return json.Marshal(v)
}

func (s *Secret) UnmarshalYAML(bs []byte) error {
	if err := yaml.Unmarshal(bs, &s.Value); err != nil {
		return fmt.Errorf("expected mapping node: %w", err)
	}
	return nil
}

func (s *Secret) UnmarshalJSON(bs []byte) error {
	return json.Unmarshal(bs, &s.Value)
}

func (s *Secret) Equal(other *Secret) bool {
	return fastEqual(s, other, func(s, other *Secret) bool {
		return s.Name == other.Name && reflect.DeepEqual(s.Value, other.Value)
	})
}

// get expands environment variable references in string values.
func (s *Secret) get() map[string]any {
	value := make(map[string]any, len(s.Value))

	for k, v := range s.Value {
		switch v := v.(type) {
		case string:
			value[k] = os.ExpandEnv(v)
		default: // Keep non-string values as is
			value[k] = v
		}
	}

	return value
}

func (s *Secret) Typed(context.Context) (any, error) {
	m := s.get()

	if len(m) == 0 {
		return nil, fmt.Errorf("secret %q is not configured", s.Name)
	}

	switch m["type"] {
	case "aws_auth":
		var value SecretAWS

		if err := decode(m, &value); err != nil {
			return nil, err
		} else if value.AccessKeyID == "" || value.SecretAccessKey == "" {
			return nil, errors.New("missing access_key_id or secret_access_key in AWS secret")
		}

		return &value, nil

	case "azure_auth":
		var value SecretAzure

		if err := decode(m, &value); err != nil {
			return nil, err
		} else if value.AccountName == "" || value.AccountKey == "" {
			return nil, errors.New("missing account_name or account_key in Azure secret")
		}

		return &value, nil

	case "gcp_auth":
		var value SecretGCP

		if err := decode(m, &value); err != nil {
			return nil, err
		} else if value.APIKey == "" && value.Credentials == "" {
			return nil, errors.New("missing api_key or credentials in GCP secret")
		}

		return &value, nil

	case "basic_auth":
		var value SecretBasicAuth
		if err := decode(m, &value); err != nil {
			return nil, err
		}

		return &value, nil

	case "token_auth":
		var value SecretTokenAuth
		if err := decode(m, &value); err != nil {
			return nil, err
		} else if value.Token == "" {
			return nil, errors.New("missing token in token secret")
		}

		return &value, nil

	default:
		return nil, fmt.Errorf("unknown secret type %q", s.Value["type"])
	}
}

type SecretAWS struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
}

type SecretGCP struct {
	APIKey      string `json:"api_key"`
	Credentials string `json:"credentials"` // Credentials file as JSON.
}

type SecretAzure struct {
	AccountName string `json:"account_name"`
	AccountKey  string `json:"account_key"`
}

type SecretBasicAuth struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Headers  []string `json:"headers,omitempty"` // Optional additional headers for HTTP requests.
}

func (s *SecretBasicAuth) Client(context.Context) (*http.Client, error) {
	headers, err := parseHeaders(s.Headers)
	if err != nil {
		return nil, err
	}

	return &http.Client{Transport: &authTransport{
		headers: headers,
		auth:    func(r *http.Request) { r.SetBasicAuth(s.Username, s.Password) },
	}}, nil
}

type SecretTokenAuth struct {
	Token string `json:"token"` // Bearer token for HTTP authentication.
}

func (s *SecretTokenAuth) Client(context.Context) (*http.Client, error) {
	return &http.Client{Transport: &authTransport{
		auth: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+s.Token) },
	}}, nil
}

type authTransport struct {
	headers http.Header
	auth    func(*http.Request)
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for name, values := range t.headers {
		req.Header[name] = values
	}
	t.auth(req)
	return http.DefaultTransport.RoundTrip(req)
}

func parseHeaders(headers []string) (http.Header, error) {
	h := make(http.Header, len(headers))
	for _, header := range headers {
		name, value, ok := strings.Cut(header, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", header)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h, nil
}

// we use this one so we don't need duplicate tags on every struct
func decode(input any, output any) error {
	config := &mapstructure.DecoderConfig{
		TagName:  "json",
		Metadata: nil,
		Result:   output,
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
