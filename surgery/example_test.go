package surgery_test

import (
	"fmt"

	"github.com/born-ml/classhead/nn"
	"github.com/born-ml/classhead/surgery"
)

func ExampleSurgeon_Reconcile() {
	classes := surgery.MustClasses("cat", "dog", "fish")
	head := nn.NewLinear(8, classes.Len(), nil)

	s := surgery.New(surgery.Options{Seed: 1})
	classes, head, report, err := s.Reconcile(classes, head, []string{"dog", "bird", "ant"},
		surgery.Policy{AddMissing: true, RemoveObsolete: true})
	if err != nil {
		panic(err)
	}

	fmt.Println(report.Removed, report.Added)
	fmt.Println(classes.Names(), head.OutFeatures())
	// Output:
	// [cat fish] [ant bird]
	// [dog ant bird] 3
}
