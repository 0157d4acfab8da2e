package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrEncryptedDocument means a password is required. It ends the chain.
	ErrEncryptedDocument = errors.New("document is password protected")
	// ErrCorruptFile means the input is not a readable document. It ends the chain.
	ErrCorruptFile = errors.New("file is corrupt or not a valid document")
	// ErrInsufficientYield means a tier ran but returned too little text.
	ErrInsufficientYield = errors.New("extraction yielded too little text")
	// ErrServiceUnavailable means no tier could run to completion.
	ErrServiceUnavailable = errors.New("extraction service unavailable")
)

// TierError attributes a failure to the tier that produced it.
type TierError struct {
	Method string
	Err    error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }

// IsDefinitive reports whether err is a terminal extraction outcome that
// retrying cannot change.
func IsDefinitive(err error) bool {
	return errors.Is(err, ErrEncryptedDocument) ||
		errors.Is(err, ErrCorruptFile) ||
		errors.Is(err, ErrInsufficientYield)
}

// UserMessage maps an extraction outcome to the text shown to the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrEncryptedDocument):
		return "This PDF is password protected. Remove the password and upload it again."
	case errors.Is(err, ErrCorruptFile):
		return "This file appears to be corrupted or is not a valid document. Try exporting it again and re-uploading."
	case errors.Is(err, ErrInsufficientYield) && !fromTextTier(err):
		return "We could not find selectable text in this document. It looks like a scanned document; OCR processing is available."
	case errors.Is(err, ErrInsufficientYield):
		return "This document contains too little readable text to process. Check that the file is not empty and upload it again."
	case err == nil:
		return ""
	default:
		return fmt.Sprintf("Text extraction failed: %v", err)
	}
}

// fromTextTier reports whether the first tier failure recorded in err came
// from a tier that reads text formats rather than PDFs. OCR cannot help those.
func fromTextTier(err error) bool {
	var te *TierError
	if !errors.As(err, &te) {
		return false
	}
	return te.Method == MethodPlainText || te.Method == MethodDocconv
}
