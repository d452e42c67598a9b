// Command meesignstatus is an operator CLI that polls a running meesignd's
// debug surface and prints a colorized task summary to the terminal.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/fatih/color"
	"gopkg.in/urfave/cli.v1"
)

type taskSummary struct {
	ID       string `json:"id"`
	TaskType string `json:"task_type"`
	State    string `json:"state"`
	Round    uint16 `json:"round"`
	Attempt  uint32 `json:"attempt_count"`
}

func main() {
	app := cli.NewApp()
	app.Name = "meesignstatus"
	app.Usage = "print the task status of a running meesignd"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr", Value: "http://127.0.0.1:8090", Usage: "meesignd debug surface base URL"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	addr := ctx.String("addr")
	resp, err := http.Get(addr + "/tasks")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var tasks []taskSummary
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	for _, t := range tasks {
		fmt.Printf("%s  %-8s  %s  round=%d attempt=%d\n", t.ID, t.TaskType, colorState(t.State), t.Round, t.Attempt)
	}
	return nil
}

func colorState(state string) string {
	switch state {
	case "Finished":
		return color.GreenString(state)
	case "Failed":
		return color.RedString(state)
	case "Running":
		return color.YellowString(state)
	default:
		return color.WhiteString(state)
	}
}
