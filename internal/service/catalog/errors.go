package catalog

import "errors"

// Sentinel errors for the catalog service layer.
var (
	ErrNotFound   = errors.New("catalog record not found")
	ErrNameTaken  = errors.New("an active group with this name already exists")
	ErrOrderTaken = errors.New("assignment order already used in this group")
	ErrValidation = errors.New("invalid catalog configuration")
)
