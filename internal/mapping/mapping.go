// Package mapping holds the HubSpot to Salesforce field tables.
//
// Keys of the lookup tables are values found in HubSpot API responses; the
// values are Salesforce picklist labels. When HubSpot introduces new deal
// types or stages, extend the tables and make sure the Salesforce picklist
// values exist before importing.
package mapping

import (
	"time"

	"hs2sf/internal/fieldmap"
)

const (
	// AccountName is the display key of a company. Required by Salesforce
	// and used for duplicate detection.
	AccountName = "Account Name"

	// CompanyID is the pseudo-column linking a child record to its company.
	// It never reaches an output file.
	CompanyID = "company_id"

	// AssociationsField is the synthetic source field holding
	// associations.companies.results of a contact or deal.
	AssociationsField = "associations_companies_results"
)

// DealTypes maps HubSpot deal types onto Salesforce opportunity types.
var DealTypes = map[string]string{
	"newbusiness":      "New Business",
	"existingbusiness": "Existing Business",
}

// DealStages maps HubSpot pipeline stages onto Salesforce opportunity stages.
var DealStages = map[string]string{
	"qualifiedtobuy":        "Qualify",
	"presentationscheduled": "Meet & Present",
	"appointmentscheduled":  "Propose",
	"decisionmakerboughtin": "Negotiate",
	"closedwon":             "Closed Won",
	"closedlost":            "Closed Lost",
}

// Accounts maps a HubSpot company onto Salesforce account columns.
var Accounts = fieldmap.Table{
	{Label: AccountName, Source: "name", Required: true},
	{Label: "Account Website", Source: "domain", Transform: fieldmap.Prefix{With: "https://"}},
	{Label: "Account Billing Street", Source: "address", Transform: fieldmap.AddressSplit{}},
	{Label: "Account Billing City", Source: "address", Transform: fieldmap.ContextValue{Key: fieldmap.CityKey}},
	{Label: "Account Billing Zip/Postal Code", Source: "address", Transform: fieldmap.ContextValue{Key: fieldmap.PostalCodeKey}},
	{Label: "Account Billing Country", Source: "country"},
}

// Contacts maps a HubSpot contact onto Salesforce contact columns.
var Contacts = fieldmap.Table{
	{Label: CompanyID, Source: AssociationsField, Transform: fieldmap.FirstAssociationID{}, Required: true},
	{Label: "Contact First Name", Source: "firstname", Required: true},
	{Label: "Contact Last Name", Source: "lastname", Required: true},
	{Label: "Contact Phone", Source: "phone"},
	{Label: "Contact Email", Source: "email"},
	{Label: "Contact Title", Source: "jobtitle"},
	{Label: "Contact Mailing Street", Source: "address", Transform: fieldmap.AddressSplit{}},
	{Label: "Contact Mailing City", Source: "address", Transform: fieldmap.ContextValue{Key: fieldmap.CityKey}},
	{Label: "Contact Mailing Zip/Postal Code", Source: "address", Transform: fieldmap.ContextValue{Key: fieldmap.PostalCodeKey}},
	{Label: "Contact Mailing Country", Source: "country"},
}

// Deals maps a HubSpot deal onto Salesforce opportunity columns. now supplies
// the fallback close date; nil means time.Now.
func Deals(now func() time.Time) fieldmap.Table {
	return fieldmap.Table{
		{Label: CompanyID, Source: AssociationsField, Transform: fieldmap.FirstAssociationID{}, Required: true},
		{Label: "Name", Source: "dealname", Required: true},
		{Label: "Type", Source: "dealtype", Transform: fieldmap.Lookup{Table: DealTypes}},
		{Label: "Stage", Source: "dealstage", Transform: fieldmap.Lookup{Table: DealStages}, Required: true},
		{Label: "Amount", Source: "amount"},
		{Label: "Close Date", Source: "closedate", Transform: fieldmap.DateNormalize{Now: now}, Required: true},
	}
}

// Validate checks all tables. It is run once at start-up.
func Validate() error {
	for _, t := range []fieldmap.Table{Accounts, Contacts, Deals(nil)} {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}
