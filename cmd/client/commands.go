package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
	"gitlab.com/dirk.krummacker/sos-service/internal/shake"
	"gopkg.in/yaml.v3"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a bearer token for the user",
	Long: `Print a bearer token for the user, for use with curl:

  curl -H "Authorization: Bearer $(sos-client token -u alice)" http://localhost:8080/contacts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := bearer()
		if err != nil {
			return err
		}
		fmt.Println(t)
		return nil
	},
}

var permissionsCmd = &cobra.Command{
	Use:   "permissions [permission...]",
	Short: "Report the granted permissions",
	Long: `Report which permissions the user granted on the device. The list replaces the
previous report; no arguments revokes everything.

Known permissions: fine_location, coarse_location, background_location, send_sms, read_contacts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		granted := append([]string{}, args...)
		return call(http.MethodPut, "/permissions", map[string]interface{}{"granted": granted})
	},
}

var locationCmd = &cobra.Command{
	Use:   "location <latitude> <longitude>",
	Short: "Report the last-known location",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return errors.Wrap(err, "invalid latitude")
		}
		lng, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return errors.Wrap(err, "invalid longitude")
		}
		return call(http.MethodPut, "/location", model.Location{Latitude: lat, Longitude: lng})
	},
}

var (
	shakeStrength float64
	shakeCount    int
	shakeGap      time.Duration
)

var shakeCmd = &cobra.Command{
	Use:   "shake",
	Short: "Send accelerometer samples of a shaken phone",
	Long: `Send a resting sample followed by --count jolts of --strength g, --gap apart.
Jolts closer together than the detector's slop time count as one shake.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		samples := []model.Sample{{Z: shake.GravityEarth, Timestamp: now}}
		for i := 1; i <= shakeCount; i++ {
			samples = append(samples, model.Sample{
				X:         shakeStrength * shake.GravityEarth,
				Z:         shake.GravityEarth,
				Timestamp: now.Add(time.Duration(i) * shakeGap),
			})
		}
		return call(http.MethodPost, "/samples", samples)
	},
}

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Press the alert button",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, "/alert", nil)
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the SOS flow state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, "/state", nil)
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage the address book and the emergency contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodGet, "/contacts", nil)
	},
}

var (
	searchLimit  int
	searchOffset int
)

var contactsSearchCmd = &cobra.Command{
	Use:   "search [name]",
	Short: "Search the uploaded address book",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := url.Values{}
		if len(args) == 1 {
			query.Set("name", args[0])
		}
		if searchLimit > 0 {
			query.Set("limit", strconv.Itoa(searchLimit))
		}
		if searchOffset > 0 {
			query.Set("offset", strconv.Itoa(searchOffset))
		}
		return call(http.MethodGet, "/device-contacts?"+query.Encode(), nil)
	},
}

var contactsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upload an address book from a YAML file",
	Long: `Upload an address book. The file holds a list of entries:

  - name: Anna Novak
    phone: +420 222 333 444
  - name: Joanna Smith
    phone: +420 111 222 333`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return errors.Wrap(err, "could not read address book")
		}
		var entries []struct {
			Name  string `yaml:"name"`
			Phone string `yaml:"phone"`
		}
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return errors.Wrap(err, "could not parse address book")
		}
		contacts := make([]model.DeviceContact, 0, len(entries))
		for _, e := range entries {
			contacts = append(contacts, model.DeviceContact{Name: e.Name, Phone: e.Phone})
		}
		return call(http.MethodPut, "/device-contacts", contacts)
	},
}

var contactsSelectCmd = &cobra.Command{
	Use:   "select <phone>...",
	Short: "Check phone numbers in the contact picker",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSelected(args, true)
	},
}

var contactsUnselectCmd = &cobra.Command{
	Use:   "unselect <phone>...",
	Short: "Uncheck phone numbers in the contact picker",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSelected(args, false)
	},
}

var contactsSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the checked numbers as emergency contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(http.MethodPost, "/selection/save", nil)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Arm the shake detector and print notices until interrupted",
	RunE:  runWatch,
}

func init() {
	shakeCmd.Flags().Float64Var(&shakeStrength, "strength", 3.5, "Jolt strength in g")
	shakeCmd.Flags().IntVar(&shakeCount, "count", 1, "Number of jolts")
	shakeCmd.Flags().DurationVar(&shakeGap, "gap", 600*time.Millisecond, "Time between jolts")
	contactsSearchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum number of results")
	contactsSearchCmd.Flags().IntVar(&searchOffset, "offset", 0, "Number of results to skip")

	contactsCmd.AddCommand(contactsSearchCmd, contactsImportCmd, contactsSelectCmd, contactsUnselectCmd, contactsSaveCmd)
	rootCmd.AddCommand(tokenCmd, permissionsCmd, locationCmd, shakeCmd, alertCmd, stateCmd, contactsCmd, watchCmd, benchCmd)
}

func setSelected(phones []string, checked bool) error {
	for _, phone := range phones {
		if err := call(http.MethodPut, "/selection/"+url.PathEscape(phone), map[string]bool{"checked": checked}); err != nil {
			return err
		}
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	t, err := bearer()
	if err != nil {
		return err
	}
	target, err := url.Parse(strings.TrimRight(serverURL, "/") + "/ws")
	if err != nil {
		return errors.Wrap(err, "invalid server URL")
	}
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}
	target.RawQuery = url.Values{"access_token": []string{t}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(target.String(), nil)
	if err != nil {
		return errors.Wrap(err, "could not connect")
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	done := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			if err := printBody(msg); err != nil {
				done <- err
				return
			}
		}
	}()

	select {
	case err := <-done:
		return errors.Wrap(err, "connection closed")
	case <-interrupt:
		return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}
