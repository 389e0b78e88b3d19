package rastervision

// loss record keys, fixed by the detector's loss computation
const (
	LossKeyTotal      = "total_loss"
	LossKeyBoxReg     = "loss_box_reg"
	LossKeyClassifier = "loss_classifier"
	LossKeyObjectness = "loss_objectness"
	LossKeyRPNBoxReg  = "loss_rpn_box_reg"
)

// SublossNames lists the loss record keys in their fixed order, the
// aggregate first
var SublossNames = []string{
	LossKeyTotal,
	LossKeyBoxReg,
	LossKeyClassifier,
	LossKeyObjectness,
	LossKeyRPNBoxReg,
}

// LossDict is the aggregated loss record for one training batch.
// TotalLoss is always the sum of the other four components.
type LossDict struct {
	TotalLoss      float64
	LossBoxReg     float64
	LossClassifier float64
	LossObjectness float64
	LossRPNBoxReg  float64
}

// Map returns the record keyed by the fixed loss names
func (l *LossDict) Map() map[string]float64 {
	return map[string]float64{
		LossKeyTotal:      l.TotalLoss,
		LossKeyBoxReg:     l.LossBoxReg,
		LossKeyClassifier: l.LossClassifier,
		LossKeyObjectness: l.LossObjectness,
		LossKeyRPNBoxReg:  l.LossRPNBoxReg,
	}
}
