package types

import "time"

// NumFeatures is the size of the clinical feature vector a prediction
// request must carry. The order is fixed and matches the vector the
// classifier was trained on.
const NumFeatures = 13

// RiskBucket is the categorical label derived from a predicted
// probability.
type RiskBucket string

const (
	RiskLow    RiskBucket = "low"
	RiskMedium RiskBucket = "medium"
	RiskHigh   RiskBucket = "high"
)

// Risk thresholds. Boundaries are exclusive on the high side: a
// probability of exactly 0.7 is medium, exactly 0.3 is low.
const (
	riskHighThreshold   = 0.7
	riskMediumThreshold = 0.3
)

// ClassifyRisk buckets a probability into exactly one RiskBucket.
func ClassifyRisk(p float64) RiskBucket {
	switch {
	case p > riskHighThreshold:
		return RiskHigh
	case p > riskMediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// HeartRecord is one scored prediction request: the thirteen clinical
// measurements exactly as submitted, the predicted probability, the
// derived risk bucket and the owning user. Records are written once
// and never updated.
type HeartRecord struct {
	// ID is the unique identifier of the record.
	ID int `json:"id" db:"id"`

	// Age in years.
	Age int `json:"age" db:"age"`

	// Sex code (1 = male, 0 = female).
	Sex int `json:"sex" db:"sex"`

	// CP is the chest pain type code (0-3).
	CP int `json:"cp" db:"cp"`

	// Trestbps is the resting blood pressure in mm Hg.
	Trestbps int `json:"trestbps" db:"trestbps"`

	// Chol is the serum cholesterol in mg/dl.
	Chol int `json:"chol" db:"chol"`

	// FBS flags fasting blood sugar > 120 mg/dl.
	FBS int `json:"fbs" db:"fbs"`

	// Restecg is the resting electrocardiographic result code.
	Restecg int `json:"restecg" db:"restecg"`

	// Thalach is the maximum heart rate achieved.
	Thalach int `json:"thalach" db:"thalach"`

	// Exang flags exercise-induced angina.
	Exang int `json:"exang" db:"exang"`

	// Oldpeak is the ST depression induced by exercise relative to rest.
	Oldpeak float64 `json:"oldpeak" db:"oldpeak"`

	// Slope is the slope code of the peak exercise ST segment.
	Slope int `json:"slope" db:"slope"`

	// CA is the number of major vessels colored by fluoroscopy (0-3).
	CA int `json:"ca" db:"ca"`

	// Thal is the thalassemia code.
	Thal int `json:"thal" db:"thal"`

	// Target is the predicted heart-disease probability in [0,1].
	Target float64 `json:"target" db:"target"`

	// RiskBucket is the categorical label derived from Target.
	RiskBucket RiskBucket `json:"risk_bucket" db:"risk_bucket"`

	// UserID references the owning user.
	UserID int `json:"user_id" db:"user_id"`

	// CreatedAt is the timestamp when the record was persisted.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FeatureVector returns the record's measurements in the canonical
// order the classifier expects: age, sex, cp, trestbps, chol, fbs,
// restecg, thalach, exang, oldpeak, slope, ca, thal.
func (h HeartRecord) FeatureVector() [NumFeatures]float64 {
	return [NumFeatures]float64{
		float64(h.Age),
		float64(h.Sex),
		float64(h.CP),
		float64(h.Trestbps),
		float64(h.Chol),
		float64(h.FBS),
		float64(h.Restecg),
		float64(h.Thalach),
		float64(h.Exang),
		h.Oldpeak,
		float64(h.Slope),
		float64(h.CA),
		float64(h.Thal),
	}
}
