//go:build bdd

package steps

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// RegisterCommonSteps registers operational endpoints and the generic
// response assertions every feature leans on.
func RegisterCommonSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// --- Operational endpoints ---
	ctx.Step(`^I get the health status$`, func() error {
		return tc.GET("/health")
	})

	ctx.Step(`^I get the readiness status$`, func() error {
		return tc.GET("/ready")
	})

	ctx.Step(`^I get the metrics$`, func() error {
		return tc.GET("/metrics")
	})

	ctx.Step(`^I get the OpenAPI document$`, func() error {
		return tc.GET("/openapi.yaml")
	})

	ctx.Step(`^the response should contain Prometheus metric "([^"]*)"$`, func(metricName string) error {
		body := string(tc.LastBody)
		if !strings.Contains(body, metricName) {
			return fmt.Errorf("metrics response does not contain %q (first 500 chars: %s)", metricName, truncate(body, 500))
		}
		return nil
	})

	// --- Then steps ---
	ctx.Step(`^the response status should be (\d+)$`, func(expected int) error {
		if tc.LastStatusCode != expected {
			return fmt.Errorf("expected status %d, got %d: %s", expected, tc.LastStatusCode, string(tc.LastBody))
		}
		return nil
	})

	ctx.Step(`^the response should contain "([^"]*)"$`, func(expected string) error {
		expected = tc.resolveVars(expected)
		if !strings.Contains(string(tc.LastBody), expected) {
			return fmt.Errorf("response does not contain %q: %s", expected, string(tc.LastBody))
		}
		return nil
	})

	// Single-quoted variant for expectations that themselves contain double
	// quotes, which most of the API's literal messages do.
	ctx.Step(`^the response should contain '([^']*)'$`, func(expected string) error {
		expected = tc.resolveVars(expected)
		if !strings.Contains(string(tc.LastBody), expected) {
			return fmt.Errorf("response does not contain %q: %s", expected, string(tc.LastBody))
		}
		return nil
	})

	ctx.Step(`^the response should not contain "([^"]*)"$`, func(unexpected string) error {
		unexpected = tc.resolveVars(unexpected)
		if strings.Contains(string(tc.LastBody), unexpected) {
			return fmt.Errorf("response should not contain %q: %s", unexpected, string(tc.LastBody))
		}
		return nil
	})

	ctx.Step(`^the response should have field "([^"]*)"$`, func(field string) error {
		_, err := tc.JSONField(field)
		return err
	})

	ctx.Step(`^the response should not have field "([^"]*)"$`, func(field string) error {
		if tc.LastJSON == nil {
			return nil // no JSON object means field is absent
		}
		if _, ok := tc.LastJSON[field]; ok {
			return fmt.Errorf("field %q should not be present in response: %s", field, string(tc.LastBody))
		}
		return nil
	})

	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, func(field, expected string) error {
		val, err := tc.JSONFieldString(field)
		if err != nil {
			return err
		}
		expected = tc.resolveVars(expected)
		if val != expected {
			return fmt.Errorf("field %q: expected %q, got %q", field, expected, val)
		}
		return nil
	})

	ctx.Step(`^the response field "([^"]*)" should be '([^']*)'$`, func(field, expected string) error {
		val, err := tc.JSONFieldString(field)
		if err != nil {
			return err
		}
		expected = tc.resolveVars(expected)
		if val != expected {
			return fmt.Errorf("field %q: expected %q, got %q", field, expected, val)
		}
		return nil
	})

	ctx.Step(`^the response field "([^"]*)" should not be empty$`, func(field string) error {
		val, err := tc.JSONFieldString(field)
		if err != nil {
			return err
		}
		if val == "" {
			return fmt.Errorf("field %q is empty", field)
		}
		return nil
	})

	ctx.Step(`^I store the response field "([^"]*)" as "([^"]*)"$`, func(field, key string) error {
		val, err := tc.JSONField(field)
		if err != nil {
			return err
		}
		tc.StoredValues[key] = val
		return nil
	})

	ctx.Step(`^the response should be valid JSON$`, func() error {
		var obj interface{}
		if err := json.Unmarshal(tc.LastBody, &obj); err != nil {
			return fmt.Errorf("invalid JSON: %w\n%s", err, string(tc.LastBody))
		}
		return nil
	})
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
