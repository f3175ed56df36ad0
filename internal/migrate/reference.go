package migrate

import (
	"regexp"
	"strings"
)

const (
	referenceFieldNameConstant           = "reference"
	referenceRequiredMessageConstant     = "a folder reference is required"
	referenceUnparseableMessageConstant  = "unable to extract a container identifier"
	folderPathPatternConstant            = `/folders/([-\w]{25,})`
	identifierPatternConstant            = `[-\w]{25,}`
	referenceSchemeSeparatorConstant     = "://"
	referenceForbiddenCharactersConstant = " \t\r\n?#"
)

var (
	folderPathExpression = regexp.MustCompile(folderPathPatternConstant)
	identifierExpression = regexp.MustCompile(identifierPatternConstant)
)

// ParseReference extracts the source container identifier from a folder URL, a
// long opaque identifier embedded in any string, or a bare short identifier.
func ParseReference(reference string) (string, error) {
	trimmedReference := strings.TrimSpace(reference)
	if len(trimmedReference) == 0 {
		return "", InvalidInputError{FieldName: referenceFieldNameConstant, Message: referenceRequiredMessageConstant}
	}

	if match := folderPathExpression.FindStringSubmatch(trimmedReference); match != nil {
		return match[1], nil
	}
	if match := identifierExpression.FindString(trimmedReference); len(match) > 0 {
		return match, nil
	}
	if strings.Contains(trimmedReference, referenceSchemeSeparatorConstant) || strings.ContainsAny(trimmedReference, referenceForbiddenCharactersConstant) {
		return "", InvalidInputError{FieldName: referenceFieldNameConstant, Message: referenceUnparseableMessageConstant}
	}
	return trimmedReference, nil
}
