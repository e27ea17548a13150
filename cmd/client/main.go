// Package main is a command line device simulator for the SOS service. It reports
// permissions and locations, uploads an address book, picks emergency contacts,
// shakes the phone and presses the alert button.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gitlab.com/dirk.krummacker/sos-service/internal/auth"
	"gopkg.in/yaml.v3"
)

var (
	serverURL    string
	userId       string
	secret       string
	token        string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sos-client",
	Short: "Device simulator for the SOS service",
	Long: `sos-client plays the role of the phone app against a running SOS service.

Every command signs its requests for the user given with --user. The token is
minted locally with --secret (default: $JWT_SECRET) unless --token is given.

Examples:
  sos-client permissions send_sms fine_location
  sos-client location 37.7749 -122.4194
  sos-client contacts import contacts.yaml
  sos-client contacts select "+1 555 123 4567"
  sos-client contacts save
  sos-client shake
  sos-client alert
  sos-client watch`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the SOS service")
	rootCmd.PersistentFlags().StringVarP(&userId, "user", "u", "demo", "User to act as")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Secret for minting tokens")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Use this token instead of minting one")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "yaml", "Output format (yaml|json)")
}

// Usage example on the command line:
// > go run . --user alice alert
func main() {
	Execute()
}

// bearer returns the token for the current user.
func bearer() (string, error) {
	if token != "" {
		return token, nil
	}
	if secret == "" {
		return "", errors.New("either --token or --secret is required")
	}
	return auth.IssueToken(userId, secret, time.Hour)
}

// sendRequest executes an authenticated request and returns the response body, the status code
// and the round trip time.
func sendRequest(method string, path string, body interface{}) ([]byte, int, time.Duration, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, 0, errors.Wrap(err, "could not marshal request")
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, bodyReader)
	if err != nil {
		return nil, 0, 0, errors.Wrap(err, "could not create request")
	}
	t, err := bearer()
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+t)
	req.Header.Set("Content-Type", "application/json")

	before := time.Now()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, 0, errors.Wrap(err, "error making http request")
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, 0, 0, errors.Wrap(err, "could not read response body")
	}
	return resBody, res.StatusCode, time.Since(before), nil
}

// call sends a request and prints the response. A status outside 2xx is an error.
func call(method string, path string, body interface{}) error {
	resBody, status, _, err := sendRequest(method, path, body)
	if err != nil {
		return err
	}
	if err := printBody(resBody); err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return errors.Errorf("%s %s answered %d", method, path, status)
	}
	return nil
}

// printBody renders a JSON response in the selected output format.
func printBody(resBody []byte) error {
	if outputFormat == "json" {
		_, err := os.Stdout.Write(append(resBody, '\n'))
		return err
	}
	var v interface{}
	if err := json.Unmarshal(resBody, &v); err != nil {
		_, err := os.Stdout.Write(append(resBody, '\n'))
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}
