package catalog

import "errors"

type Product struct {
	ID          string   `json:"id" bson:"_id,omitempty"`
	SKU         string   `json:"sku" bson:"sku"`
	Name        string   `json:"name" bson:"name"`
	Description string   `json:"description" bson:"description"`
	Quantity    int      `json:"quantity" bson:"quantity"`
	Images      []string `json:"images" bson:"images"`
}

// ImageUpdatePolicy decides what happens to a product's images on update.
type ImageUpdatePolicy int

const (
	KeepExistingImages ImageUpdatePolicy = iota
	ReplaceAllImages
)

// ProductUpdate carries a partial update. Nil fields are left untouched;
// Images is applied only under ReplaceAllImages.
type ProductUpdate struct {
	SKU         *string `json:"sku,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Quantity    *int    `json:"quantity,omitempty"`

	Images      []string          `json:"-"`
	ImagePolicy ImageUpdatePolicy `json:"-"`
}

var ErrDuplicateSKU = errors.New("sku already exists")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + " " + e.Reason }

func errRequired(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}

func validateDraft(p Product) error {
	if p.SKU == "" {
		return errRequired("sku")
	}
	if p.Name == "" {
		return errRequired("name")
	}
	if p.Description == "" {
		return errRequired("description")
	}
	if p.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	return nil
}

func validateUpdate(u ProductUpdate) error {
	if u.SKU != nil && *u.SKU == "" {
		return errRequired("sku")
	}
	if u.Name != nil && *u.Name == "" {
		return errRequired("name")
	}
	if u.Description != nil && *u.Description == "" {
		return errRequired("description")
	}
	if u.Quantity != nil && *u.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	return nil
}

func (u ProductUpdate) applyTo(p Product) Product {
	if u.SKU != nil {
		p.SKU = *u.SKU
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Quantity != nil {
		p.Quantity = *u.Quantity
	}
	if u.ImagePolicy == ReplaceAllImages {
		p.Images = append([]string(nil), u.Images...)
	}
	return p
}
