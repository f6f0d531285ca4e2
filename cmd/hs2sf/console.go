package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"hs2sf/internal/config"
	"hs2sf/internal/migrate"
)

const banner = `
    hs2sf - HubSpot to Salesforce Free CRM migration
    Contacts -> Contacts, Companies -> Accounts, Deals -> Opportunities.

    Downloads HubSpot data and builds Salesforce CSVs ready to import.

    If a Contact or Deal is associated with more than one Company only the
    first one is taken.
`

const tokenHelp = `
Add a legacy private app in your HubSpot account to run this tool,
see https://developers.hubspot.com/docs/apps/legacy-apps/private-apps/overview .

When creating the app tick all company, contact and deal read scopes.
`

const importHelp = `
How to import %[1]s

    1. Open Accounts -> Import -> Data Import Wizard
    2. Select "Accounts and Contacts" - "Add new records"
    3. Match Contact by Name, match Account by Name & Site
    4. Choose CSV with Character Code set to Unicode (UTF-8)
    5. Upload %[1]s with the Browse button and follow the wizard

How to import %[2]s

    1. Open Sales -> Opportunities -> Import
    2. Select "Import From File"
    3. Upload %[2]s and follow the wizard
    4. When the import has finished, run the association step below

The Account name of every Opportunity is kept in its Next Step field.
To complete the association create and run a Flow in Salesforce that sets
the Opportunity Account from Next Step, as shown in
https://github.com/IvanRublev/hb2sffree/raw/refs/heads/master/flow_to_set_opportunity_accounts.mp4
`

// errEmptyToken is returned when the prompt yields no token.
var errEmptyToken = errors.New("hs2sf: empty HubSpot token")

func printBanner(w io.Writer) {
	fmt.Fprint(w, banner)
}

// promptToken asks for the token, hiding input when in is a terminal.
func promptToken(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, tokenHelp)
	fmt.Fprintf(out, "\nNo HubSpot token found in the environment variable %s.\n", config.TokenEnv)
	fmt.Fprint(out, "Please enter your HubSpot token: ")

	var token string
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("hs2sf: read token: %w", err)
		}
		token = string(b)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("hs2sf: read token: %w", err)
		}
		token = line
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

// statsTable renders the build counts in report order.
func statsTable(s migrate.Stats) string {
	m := s.Map()
	t := table.NewWriter()
	t.SetTitle("Build statistics")
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Metric", "Value"})
	for _, out := range []string{migrate.AccountsContacts, migrate.Opportunities} {
		for _, kind := range []string{"total", "valid", "error"} {
			key := out + "_" + kind + "_rows"
			t.AppendRow(table.Row{key, m[key]})
		}
	}
	return t.Render()
}

func printImportHelp(w io.Writer, dir string) {
	fmt.Fprintf(w, "\nThe CSV files are saved to the %s directory:\n\n", dir)
	fmt.Fprintf(w, "    %s\n", migrate.AccountsContactsFile)
	fmt.Fprintf(w, "    %s\n", migrate.OpportunitiesFile)
	fmt.Fprintln(w, "\nYou can import them in Salesforce.")
	fmt.Fprintf(w, importHelp, migrate.AccountsContactsFile, migrate.OpportunitiesFile)
}
