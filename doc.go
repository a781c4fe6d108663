/*
Package facemark locates a fixed set of semantic landmark points, like facial
features, inside a bounding rectangle of an image. It implements an ensemble
of cascaded regression trees working over pixel-intensity-difference features,
which makes a trained predictor cheap enough for interactive use: one
prediction costs a fixed, small number of pixel reads and comparisons.

The package provides a command line interface for training, evaluating and
running predictors. To check the supported commands type:

	$ facemark --help

In case you wish to integrate the API in a self constructed environment here
is a simple example:

	package main

	import (
		"fmt"
		"log"

		"github.com/esimov/facemark"
	)

	func main() {
		p, err := facemark.Load("shape_model.dat")
		if err != nil {
			log.Fatal(err)
		}

		det, err := p.Predict(img, facemark.NewRect(65, 40, 225, 200))
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(det.Points)
	}
*/
package facemark
