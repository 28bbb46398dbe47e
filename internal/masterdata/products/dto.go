package products

// ProductForm carries create/update input.
type ProductForm struct {
	Reference     string `json:"reference"`
	Name          string `json:"name"`
	PurchasePrice string `json:"purchase_price"`
	SalePrice     string `json:"sale_price"`
}
