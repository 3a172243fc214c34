// Package onboarding runs the first-launch setup: collecting the backend API
// token and marking the wizard done.
package onboarding

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"concourse/config"
	"concourse/internal/credentials"
)

var (
	wizardPrimary = lipgloss.AdaptiveColor{Light: "#5a56e0", Dark: "#7b79f1"}
	wizardErr     = lipgloss.AdaptiveColor{Light: "#fe5f86", Dark: "#fe5f86"}
)

// RunWizard walks the user through connecting a backend. Returns true when
// setup completed, false when the user backed out.
func RunWizard() (bool, error) {
	headerStyle := lipgloss.NewStyle().Foreground(wizardPrimary).Bold(true)
	fmt.Println(headerStyle.Render("Welcome to Concourse"))
	fmt.Println()
	fmt.Println("Concourse compares how an agent answers the same message")
	fmt.Println("under different constitution configurations.")
	fmt.Println()

	var token string
	var baseURL = config.DefaultBackendURL

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Backend URL").
				Description("Where your agent backend is running.").
				Value(&baseURL).
				Validate(config.ValidateBaseURL),
			huh.NewInput().
				Title("API token").
				Description("Stored in your system keyring, never on disk.").
				Password(true).
				Value(&token).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("token cannot be empty")
					}
					return nil
				}),
		),
	)

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return false, nil
		}
		return false, err
	}

	if err := credentials.SetAPIToken(token); err != nil {
		return false, err
	}

	registry, err := config.LoadBackendRegistry()
	if err != nil {
		return false, err
	}
	if err := registry.AddBackend(config.BackendConfig{
		Name:    "hosted",
		BaseURL: strings.TrimSpace(baseURL),
		Default: true,
	}); err != nil {
		return false, err
	}
	if err := config.SaveBackendRegistry(registry); err != nil {
		return false, err
	}

	if err := MarkComplete(); err != nil {
		return false, err
	}

	okStyle := lipgloss.NewStyle().Foreground(wizardPrimary)
	fmt.Println(okStyle.Render("Setup complete. Launching..."))
	return true, nil
}

// FailureText renders a setup error the way the wizard styles its headers.
func FailureText(err error) string {
	return lipgloss.NewStyle().Foreground(wizardErr).Bold(true).
		Render(fmt.Sprintf("Setup failed: %v", err))
}
