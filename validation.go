package actorauth

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/MrEthical07/actorauth/identity"
)

const maxFieldLength = 255

// normalizeBusinessKey returns the form under which a key is stored and
// looked up. Email keys are case-insensitive.
func normalizeBusinessKey(kind KeyKind, key string) string {
	key = strings.TrimSpace(key)
	if kind == KeyEmail {
		key = strings.ToLower(key)
	}
	return key
}

func businessKeyRules(kind KeyKind) []validation.Rule {
	rules := []validation.Rule{validation.Required}
	switch kind {
	case KeyEmail:
		rules = append(rules, validation.Length(3, 254), is.Email)
	default:
		rules = append(rules, validation.Length(1, maxFieldLength), is.PrintableASCII)
	}
	return rules
}

// validateRegister checks req against the role's key rule and the password
// policy. req must already be normalized.
func validateRegister(req *RegisterRequest, kind KeyKind, minSecretBytes int) error {
	hasSecret := req.Secret != ""
	hasSSO := req.SSO != nil

	credentialRule := validation.By(func(interface{}) error {
		switch {
		case hasSecret && hasSSO:
			return errors.New("provide either a secret or an SSO credential, not both")
		case !hasSecret && !hasSSO:
			return errors.New("a secret or an SSO credential is required")
		case hasSecret && len(req.Secret) < minSecretBytes:
			return fmt.Errorf("must be at least %d bytes", minSecretBytes)
		}
		return nil
	})

	err := validation.ValidateStruct(req,
		validation.Field(&req.BusinessKey, businessKeyRules(kind)...),
		validation.Field(&req.DisplayName, validation.Required, validation.Length(1, maxFieldLength)),
		validation.Field(&req.Secret, credentialRule),
	)
	if err != nil {
		return err
	}

	if hasSSO {
		return validateSSO(req.SSO.Provider, req.SSO.ProviderKey)
	}
	return nil
}

func validateSSO(provider, providerKey string) error {
	return validation.Errors{
		"provider": validation.Validate(provider,
			validation.Required,
			validation.Length(1, 64),
			validation.By(func(interface{}) error {
				if strings.EqualFold(provider, identity.ProviderLocal) {
					return errors.New("is reserved")
				}
				return nil
			}),
		),
		"provider_key": validation.Validate(providerKey, validation.Required, validation.Length(1, maxFieldLength)),
	}.Filter()
}
