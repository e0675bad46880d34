package schemas

import "github.com/tjfontaine/service-template/internal/models"

type ProductCreateRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	Category    *string `json:"category,omitempty"`
}

func (r ProductCreateRequest) Validate() error {
	v := &ValidationError{}
	checkLength(v, "name", r.Name, 1, 200)
	if r.Description != nil {
		checkLength(v, "description", *r.Description, 0, 1000)
	}
	checkPrice(v, "price", r.Price)
	checkNonNegative(v, "stock", r.Stock)
	if r.Category != nil {
		checkLength(v, "category", *r.Category, 0, 50)
	}
	return v.errOrNil()
}

func (r ProductCreateRequest) Fields() map[string]any {
	return map[string]any{
		"name":        r.Name,
		"description": r.Description,
		"price":       r.Price,
		"stock":       r.Stock,
		"category":    r.Category,
	}
}

type ProductUpdateRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Stock       *int     `json:"stock,omitempty"`
	Category    *string  `json:"category,omitempty"`
}

func (r ProductUpdateRequest) Validate() error {
	v := &ValidationError{}
	if r.Name != nil {
		checkLength(v, "name", *r.Name, 1, 200)
	}
	if r.Description != nil {
		checkLength(v, "description", *r.Description, 0, 1000)
	}
	if r.Price != nil {
		checkPrice(v, "price", *r.Price)
	}
	if r.Stock != nil {
		checkNonNegative(v, "stock", *r.Stock)
	}
	if r.Category != nil {
		checkLength(v, "category", *r.Category, 0, 50)
	}
	return v.errOrNil()
}

func (r ProductUpdateRequest) Fields() map[string]any {
	fields := map[string]any{}
	if r.Name != nil {
		fields["name"] = *r.Name
	}
	if r.Description != nil {
		fields["description"] = *r.Description
	}
	if r.Price != nil {
		fields["price"] = *r.Price
	}
	if r.Stock != nil {
		fields["stock"] = *r.Stock
	}
	if r.Category != nil {
		fields["category"] = *r.Category
	}
	return fields
}

type ProductResponse = models.Product
