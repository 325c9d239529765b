// Package reversement tells a merchant which payout providers could carry
// a VAT remittance to their account. It only advises; it never pays out.
package reversement

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Provider is a payout provider.
type Provider string

const (
	ProviderStripe  Provider = "STRIPE"
	ProviderMoneroo Provider = "MONEROO"
	ProviderShap    Provider = "SHAP"
)

// AllProviders lists every provider in preference order.
var AllProviders = []Provider{ProviderStripe, ProviderMoneroo, ProviderShap}

// AccountType is the kind of account a remittance would land in.
type AccountType string

const (
	AccountBank        AccountType = "bank"
	AccountMobileMoney AccountType = "mobile_money"
	AccountUnknown     AccountType = "unknown"
)

var (
	ibanPrefix   = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}`)
	phoneNumber  = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
	nonPhoneChar = regexp.MustCompile(`[^+0-9]`)
)

// ClassifyAccount guesses the account type from its identifier.
func ClassifyAccount(account string) AccountType {
	cleaned := strings.ToUpper(strings.Join(strings.Fields(account), ""))
	if cleaned == "" {
		return AccountUnknown
	}

	if ibanPrefix.MatchString(cleaned) {
		return AccountBank
	}
	if phoneNumber.MatchString(nonPhoneChar.ReplaceAllString(cleaned, "")) {
		return AccountMobileMoney
	}
	if strings.Contains(cleaned, "IBAN") || strings.HasPrefix(cleaned, "FR") {
		return AccountBank
	}
	return AccountUnknown
}

// CompatibleProviders filters available down to those able to pay into
// an account of type t. Unknown accounts keep every available provider.
func CompatibleProviders(t AccountType, available []Provider) []Provider {
	switch t {
	case AccountBank:
		return lo.Filter(available, func(p Provider, _ int) bool { return p == ProviderStripe })
	case AccountMobileMoney:
		return lo.Filter(available, func(p Provider, _ int) bool { return p == ProviderShap || p == ProviderMoneroo })
	default:
		return lo.Uniq(available)
	}
}

// SuggestProvider picks the preferred provider, or "" when none fits.
// Gabonese sellers prefer Shap for mobile money.
func SuggestProvider(t AccountType, sellerCountry string, available []Provider) Provider {
	switch t {
	case AccountBank:
		if lo.Contains(available, ProviderStripe) {
			return ProviderStripe
		}
	case AccountMobileMoney:
		if strings.EqualFold(sellerCountry, "GA") && lo.Contains(available, ProviderShap) {
			return ProviderShap
		}
		if lo.Contains(available, ProviderMoneroo) {
			return ProviderMoneroo
		}
		if lo.Contains(available, ProviderShap) {
			return ProviderShap
		}
	}
	return ""
}

// Validation is the advice returned to a merchant.
type Validation struct {
	CanEnable           bool        `json:"canEnableAutoReversement"`
	AvailableProviders  []Provider  `json:"availableProviders"`
	AccountType         AccountType `json:"accountType,omitempty"`
	CompatibleProviders []Provider  `json:"compatibleProviders"`
	Suggested           Provider    `json:"suggestedProvider,omitempty"`
	Warnings            []string    `json:"warnings"`
	Suggestions         []string    `json:"suggestions"`
}

// Validate checks whether automatic VAT remittance can be enabled for an
// account, given the providers the merchant has configured.
func Validate(account, sellerCountry string, available []Provider) Validation {
	available = lo.Uniq(available)
	v := Validation{
		AvailableProviders:  available,
		CompatibleProviders: []Provider{},
		Warnings:            []string{},
		Suggestions:         []string{},
	}

	if len(available) == 0 {
		v.AvailableProviders = []Provider{}
		v.Warnings = append(v.Warnings, "no payout provider is configured, automatic remittance cannot be enabled")
		v.Suggestions = append(v.Suggestions,
			"configure Stripe to remit to bank accounts",
			"configure Shap to remit to mobile money in Gabon",
			"configure Moneroo to remit to mobile money in other countries",
		)
		return v
	}

	if strings.TrimSpace(account) == "" {
		v.Warnings = append(v.Warnings, "a remittance account is required to enable automatic remittance")
		v.Suggestions = append(v.Suggestions, "configure a remittance account")
		return v
	}

	v.AccountType = ClassifyAccount(account)
	v.CompatibleProviders = CompatibleProviders(v.AccountType, available)
	v.Suggested = SuggestProvider(v.AccountType, sellerCountry, available)
	v.CanEnable = len(v.CompatibleProviders) > 0

	if !v.CanEnable {
		switch v.AccountType {
		case AccountBank:
			v.Warnings = append(v.Warnings, "the account looks like a bank account (IBAN) but Stripe is not configured")
			v.Suggestions = append(v.Suggestions, "configure Stripe to remit to bank accounts")
		case AccountMobileMoney:
			v.Warnings = append(v.Warnings, "the account looks like a mobile money number but no mobile money provider is configured")
			if strings.EqualFold(sellerCountry, "GA") {
				v.Suggestions = append(v.Suggestions, "configure Shap to remit to mobile money in Gabon")
			} else {
				v.Suggestions = append(v.Suggestions, "configure Moneroo or Shap to remit to mobile money")
			}
		}
		return v
	}

	if v.AccountType == AccountUnknown {
		v.Warnings = append(v.Warnings, "account type could not be detected: use an IBAN for banks or a phone number for mobile money")
	}
	if v.AccountType == AccountBank && lo.Contains(available, ProviderShap) {
		v.Suggestions = append(v.Suggestions, "Shap is configured but cannot pay into bank accounts, use Stripe")
	}
	if v.AccountType == AccountMobileMoney && lo.Contains(available, ProviderStripe) {
		v.Suggestions = append(v.Suggestions, "Stripe is configured but cannot pay into mobile money, use Shap or Moneroo")
	}
	return v
}

// ParseProviders turns names such as "stripe, shap" into known providers,
// ignoring anything unrecognised.
func ParseProviders(names []string) []Provider {
	return lo.Uniq(lo.FilterMap(names, func(n string, _ int) (Provider, bool) {
		p := Provider(strings.ToUpper(strings.TrimSpace(n)))
		return p, lo.Contains(AllProviders, p)
	}))
}
