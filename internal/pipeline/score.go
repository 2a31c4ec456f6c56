package pipeline

import (
	"fmt"

	"sleepnet/internal/eval"
	"sleepnet/internal/extract"
	"sleepnet/internal/model"
	"sleepnet/internal/nn"
	"sleepnet/internal/util"
)

// Score evaluates a saved model on one subject's recordings, extracting
// epochs with the settings the model was trained with.
func Score(art nn.Artifact, psgPath, hypPath string, labels model.LabelMap) (eval.Report, error) {
	net, err := art.Model()
	if err != nil {
		return eval.Report{}, err
	}
	res := extract.Subject(util.Basename(psgPath), psgPath, hypPath, extract.Options{Data: art.Data, Labels: labels})
	if res.Status != extract.Extracted {
		return eval.Report{}, fmt.Errorf("%s: %s", res.Status, res.Reason)
	}
	x, err := art.Scaler.Transform(res.Epochs)
	if err != nil {
		return eval.Report{}, err
	}
	y := make([]int, len(res.Labels))
	for i, l := range res.Labels {
		y[i] = int(l)
	}
	batch := scoreBatch(art)
	loss, _, err := net.Evaluate(x, y, batch)
	if err != nil {
		return eval.Report{}, err
	}
	pred, err := net.PredictClasses(x, batch)
	if err != nil {
		return eval.Report{}, err
	}
	names := art.Classes
	if len(names) == 0 {
		names = model.ClassNames()
	}
	r := eval.Classify(y, pred, names)
	r.Loss = loss
	return r, nil
}

// scoreBatch is the batch size the model was trained with, or 64.
func scoreBatch(art nn.Artifact) int {
	if art.Training.BatchSize > 0 {
		return art.Training.BatchSize
	}
	return 64
}
