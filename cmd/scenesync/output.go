package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
)

func printSuccess(format string, args ...interface{}) {
	_, _ = successColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	_, _ = errorColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	_, _ = warnColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	_, _ = infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError("encode json: %v", err)
		return
	}
	fmt.Println(string(data))
}
