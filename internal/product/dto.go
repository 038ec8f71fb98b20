package product

type ProductResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Price       string  `json:"price"`
	Currency    string  `json:"currency"`
	ImageURL    *string `json:"image_url,omitempty"`
	Purchasable bool    `json:"purchasable"`
}

type ProductsResponse struct {
	Products []ProductResponse `json:"products"`
}
