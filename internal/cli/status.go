// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Queries a running engine over its HTTP boundary.
package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/YanDao0313/lockit/internal/config"
)

// HandleStatus prints the state of a running engine.
func HandleStatus(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	base := fmt.Sprintf("http://%s:%d", cfg.Server.BindAddr, cfg.Server.Port)

	client := &http.Client{Timeout: 3 * time.Second}

	var health struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		Locked      bool   `json:"locked"`
		RecordCount int    `json:"record_count"`
	}
	if err := getJSON(client, base+"/health", &health); err != nil {
		fmt.Println(ErrorStyle.Render("✗ Engine not running"))
		fmt.Println(DimStyle.Render("  " + err.Error()))
		return nil
	}

	var state struct {
		Locked        bool `json:"locked"`
		AttemptCount  int  `json:"attempt_count"`
		SettingsDirty bool `json:"settings_dirty"`
	}
	if err := getJSON(client, base+"/v1/state", &state); err != nil {
		return err
	}

	fmt.Println(TitleStyle.Render("lockit status"))
	fmt.Println(LabelStyle.Render("Engine:") + SuccessStyle.Render(health.Status))
	fmt.Println(LabelStyle.Render("Version:") + ValueStyle.Render(health.Version))
	if state.Locked {
		fmt.Println(LabelStyle.Render("Lock:") + WarningStyle.Render("locked"))
		fmt.Println(LabelStyle.Render("Attempts:") + ValueStyle.Render(fmt.Sprintf("%d", state.AttemptCount)))
	} else {
		fmt.Println(LabelStyle.Render("Lock:") + ValueStyle.Render("unlocked"))
	}
	fmt.Println(LabelStyle.Render("Records:") + ValueStyle.Render(fmt.Sprintf("%d", health.RecordCount)))
	return nil
}

func getJSON(client *http.Client, url string, v interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
