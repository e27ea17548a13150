package main

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var benchSizes []int

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure the latency of the contact picker endpoints",
	Long: `Check, toggle, list and clear growing numbers of phone numbers and print the
average latency per request in microseconds. The selection of the user is cleared
afterwards; saved emergency contacts are not touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println()
		fmt.Println("  Elements       PUT    TOGGLE       GET    DELETE ")
		fmt.Println("---------------------------------------------------")
		for _, loops := range benchSizes {
			fmt.Printf("%10d", loops)
			phones := createRandomPhones(loops)
			{
				// PUT requests
				f := func(phone string) (time.Duration, error) {
					return timeRequest(http.MethodPut, "/selection/"+url.PathEscape(phone), map[string]bool{"checked": true})
				}
				if err := callInLoop(phones, f); err != nil {
					return err
				}
			}
			{
				// toggle requests, twice to restore the selection
				f := func(phone string) (time.Duration, error) {
					d1, err := timeRequest(http.MethodPost, "/selection/"+url.PathEscape(phone)+"/toggle", nil)
					if err != nil {
						return 0, err
					}
					d2, err := timeRequest(http.MethodPost, "/selection/"+url.PathEscape(phone)+"/toggle", nil)
					return (d1 + d2) / 2, err
				}
				if err := callInLoop(phones, f); err != nil {
					return err
				}
			}
			{
				// GET requests
				f := func(string) (time.Duration, error) {
					return timeRequest(http.MethodGet, "/selection", nil)
				}
				if err := callInLoop(phones[:min(len(phones), 100)], f); err != nil {
					return err
				}
			}
			{
				// DELETE request
				d, err := timeRequest(http.MethodDelete, "/selection", nil)
				if err != nil {
					return err
				}
				fmt.Printf("%10d", d.Microseconds())
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	benchCmd.Flags().IntSliceVar(&benchSizes, "sizes", []int{100, 500, 1000, 5000}, "Selection sizes to measure")
}

func callInLoop(phones []string, f func(phone string) (time.Duration, error)) error {
	var duration time.Duration
	for _, phone := range phones {
		d, err := f(phone)
		if err != nil {
			return err
		}
		duration += d
	}
	fmt.Printf("%10d", duration.Microseconds()/int64(max(len(phones), 1)))
	return nil
}

func createRandomPhones(loops int) []string {
	phones := make([]string, 0, loops)
	for i := 0; i < loops; i++ {
		phones = append(phones, fmt.Sprintf("+1 555 %07d", i))
	}
	rand.Shuffle(len(phones), func(i, j int) {
		phones[i], phones[j] = phones[j], phones[i]
	})
	return phones
}

func timeRequest(method string, path string, body interface{}) (time.Duration, error) {
	_, status, d, err := sendRequest(method, path, body)
	if err != nil {
		return 0, err
	}
	if status < 200 || status > 299 {
		return 0, errors.Errorf("%s %s answered %d", method, path, status)
	}
	return d, nil
}
