package predict

// Upload is one uploaded file. It lives for the duration of a request.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Result is the response of a single-image prediction.
type Result struct {
	Success         bool    `json:"success"`
	TumorPixels     int     `json:"tumor_pixels"`
	TotalPixels     int     `json:"total_pixels"`
	TumorPercentage float64 `json:"tumor_percentage"`
	SegmentedImage  string  `json:"segmented_image"` // base64 PNG overlay
	Mask            string  `json:"mask"`            // base64 PNG binary mask
	OriginalSize    [2]int  `json:"original_size"`   // width, height
	ModelSize       [2]int  `json:"model_size"`
}

// BatchItem is the outcome for one file of a batch. Statistics are set
// only on success and Error only on failure.
type BatchItem struct {
	Filename        string   `json:"filename"`
	Success         bool     `json:"success"`
	TumorPixels     *int     `json:"tumor_pixels,omitempty"`
	TumorPercentage *float64 `json:"tumor_percentage,omitempty"`
	Error           string   `json:"error,omitempty"`
}

type BatchResult struct {
	TotalImages int         `json:"total_images"`
	Successful  int         `json:"successful"`
	Failed      int         `json:"failed"`
	Results     []BatchItem `json:"results"`
}
