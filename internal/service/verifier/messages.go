package verifier

import (
	"golang.org/x/text/language"

	"github.com/nkiryanov/parcelguard/internal/models"
)

const (
	LangFrench  = "fr"
	LangEnglish = "en"

	DefaultLanguage = LangFrench
)

var messages = map[string]map[string]string{
	LangFrench: {
		models.StatusValid:             "QR code vérifié avec succès.",
		models.StatusTokenNotFound:     "QR code non reconnu. Ce code pourrait être falsifié.",
		models.StatusTokenRevoked:      "Ce QR code a été révoqué",
		models.StatusTokenExpired:      "Ce QR code temporaire a expiré.",
		models.StatusSignatureInvalid:  "Signature invalide. Ce QR code a peut-être été falsifié.",
		models.StatusFormatInvalid:     "Format de QR code invalide.",
		models.StatusVerificationError: "Vérification impossible pour le moment. Réessayez.",
	},
	LangEnglish: {
		models.StatusValid:             "Code verified successfully.",
		models.StatusTokenNotFound:     "Unknown code. This code may be forged.",
		models.StatusTokenRevoked:      "This code has been revoked",
		models.StatusTokenExpired:      "This temporary code has expired.",
		models.StatusSignatureInvalid:  "Invalid signature. This code may have been tampered with.",
		models.StatusFormatInvalid:     "Invalid code format.",
		models.StatusVerificationError: "Verification is unavailable right now. Try again.",
	},
}

// Message returns short reason for the status in the language.
// Revocation reason is appended for revoked tokens.
func Message(lang string, status string, revocationReason string) string {
	byStatus, ok := messages[lang]
	if !ok {
		byStatus = messages[DefaultLanguage]
	}

	msg := byStatus[status]
	if status == models.StatusTokenRevoked && revocationReason != "" {
		msg += ": " + revocationReason
	}
	return msg
}

// Order follows supported tags of the matcher, the first one is the fallback
var (
	supported = []string{LangFrench, LangEnglish}
	matcher   = language.NewMatcher([]language.Tag{language.French, language.English})
)

// ParseLanguage picks supported language from Accept-Language header value
// honoring quality weights
func ParseLanguage(header string) string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return DefaultLanguage
	}

	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return DefaultLanguage
	}
	return supported[index]
}
