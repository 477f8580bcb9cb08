// Package main provides the desktop notification plugin for macOS.
// It posts a Notification Center banner for each detection alert.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action string          `json:"action"`
	Event  string          `json:"event"`
	Config json.RawMessage `json:"config"`
	Params json.RawMessage `json:"params"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// alertParams is the subset of the alert the banner needs.
type alertParams struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	SoundName string `json:"sound_name"`
}

type actionHandler func(params json.RawMessage) error

var actionHandlers = map[string]actionHandler{
	"detection": postNotification,
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	handler, ok := actionHandlers[req.Action]
	if !ok {
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	if err := handler(req.Params); err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}

	writeSuccessResponse()
}

func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

func writeSuccessResponse() {
	json.NewEncoder(os.Stdout).Encode(Response{Success: true})
}

func postNotification(raw json.RawMessage) error {
	var p alertParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("invalid params: %w", err)
		}
	}
	if p.Title == "" {
		p.Title = "Nail-biting detected"
	}
	return runAppleScript(notificationScript(p))
}

// notificationScript builds the AppleScript for one banner. Strings are
// quoted with strconv so embedded quotes cannot break out of the literal.
func notificationScript(p alertParams) string {
	script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(p.Body), strconv.Quote(p.Title))
	if p.SoundName != "" {
		script += " sound name " + strconv.Quote(p.SoundName)
	}
	return script
}

// runAppleScript executes an AppleScript command using osascript.
func runAppleScript(script string) error {
	cmd := exec.Command("osascript", "-e", script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("osascript failed: %w (output: %s)", err, string(output))
	}
	return nil
}
