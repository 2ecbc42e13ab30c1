package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

const bannerText = `
   ___              _       ___              __   _
  / _ |___ ___ ____(_)__   / _ | ________ __/ /  (_)  _____
 / __ / -_) _ '/ _ / (_-<  / __ |/ __/ __/ _ \ / / |/ / -_)
/_/ |_\__/\_, /\___/_/___/ /_/ |_/_/  \__/_//_/_/|___/\__/
         /___/`

func colorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func banner() string {
	if !colorEnabled(os.Stderr) {
		return bannerText
	}
	c := color.New(color.FgCyan, color.Bold)
	c.EnableColor()
	return c.Sprint(bannerText)
}
