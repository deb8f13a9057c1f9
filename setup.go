package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonimelisma/filevault/internal/auth"
	"github.com/tonimelisma/filevault/internal/config"
)

const (
	// secretKeyBytes is the entropy of a generated SECRET_KEY.
	secretKeyBytes = 24
	defaultAdmin   = "admin"
	// Setup asks for the timeout in minutes; the config stores seconds.
	defaultTimeoutMinutes = 30
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file interactively",
		Long: `Prompt for an admin account, port, and session timeout, then write a
config file with a freshly generated SECRET_KEY. The password is stored as a
bcrypt hash.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.ResolveConfigPath(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: flagConfigPath})

			return runSetup(cmd.InOrStdin(), cmd.OutOrStdout(), path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

// prompter reads answers line by line. Passwords are read without echo
// when the input is a terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out, fd: -1}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.tty = true
	}

	return p
}

// ask prints label and returns the trimmed answer, or def when empty.
func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}

	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}

	if answer := strings.TrimSpace(line); answer != "" {
		return answer, nil
	}

	return def, nil
}

func (p *prompter) password(label string) (string, error) {
	if !p.tty {
		return p.ask(label, "")
	}

	fmt.Fprintf(p.out, "%s: ", label)

	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(b), nil
}

func (p *prompter) askInt(label string, def int) (int, error) {
	answer, err := p.ask(label, strconv.Itoa(def))
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(answer)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", strings.ToLower(label), answer)
	}

	return n, nil
}

// runSetup prompts for first-run settings and writes the config to path.
func runSetup(in io.Reader, out io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	p := newPrompter(in, out)
	cfg := config.DefaultConfig()

	username, err := p.ask("Admin username", defaultAdmin)
	if err != nil {
		return err
	}

	password, err := p.password("Admin password")
	if err != nil {
		return err
	}

	if password == "" {
		return errors.New("admin password must not be empty")
	}

	if p.tty {
		confirm, confirmErr := p.password("Confirm password")
		if confirmErr != nil {
			return confirmErr
		}

		if confirm != password {
			return errors.New("passwords do not match")
		}
	}

	if cfg.Port, err = p.askInt("Port", cfg.Port); err != nil {
		return err
	}

	minutes, err := p.askInt("Session timeout in minutes", defaultTimeoutMinutes)
	if err != nil {
		return err
	}

	cfg.SessionTimeout = minutes * 60

	if cfg.UploadDir, err = p.ask("Upload directory", cfg.UploadDir); err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	cfg.Credentials = map[string]string{username: hash}

	if cfg.SecretKey, err = generateSecret(); err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	if err := config.Write(path, cfg); err != nil {
		return err
	}

	fmt.Fprintf(out, "Wrote %s. Start the server with \"filevault serve\".\n", path)

	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, secretKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret key: %w", err)
	}

	return hex.EncodeToString(b), nil
}
