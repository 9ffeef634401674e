package schema

const dateTimeMask = `^(0[1-9]|[12][0-9]|3[01])\.(0[1-9]|1[012])\.(19|20)\d\d\s(2[0-3]|[01][0-9]):[0-5][0-9]$`

// DefaultLogic is the stock field-service configuration
func DefaultLogic() Logic {
	return Logic{
		StatusProperty:     "Status",
		StartProperty:      "Start",
		FinishProperty:     "Finish",
		IdentifierProperty: "ID",
		Dripfeed:           true,
		States: []Status{
			{Name: "Dispatched", Transitions: []string{"Working", "Declined"}},
			{Name: "Declined"},
			{Name: "Working", Transitions: []string{"Done", "Partially done"}},
			{Name: "Done", Terminal: true},
			{Name: "Partially done", Terminal: true},
		},
		Properties: []Property{
			{
				Name: "Start", Object: ObjectTask, DisplayName: "Begin", ReadOnly: true,
				Type: TypeDatetime, SourceFormat: "iso", DisplayFormat: "DD.MM.YYYY HH:mm",
				ValidationPattern: dateTimeMask, VisibleInSchedule: true,
			},
			{
				Name: "Finish", Object: ObjectTask, DisplayName: "End", ReadOnly: true,
				Type: TypeDatetime, SourceFormat: "iso", DisplayFormat: "DD.MM.YYYY HH:mm",
				ValidationPattern: dateTimeMask, VisibleInSchedule: true,
			},
			{Name: "ID", Object: ObjectTask, DisplayName: "ApptID", ReadOnly: true, Type: TypeString, VisibleInSchedule: true},
			{Name: "Status", Object: ObjectTask, DisplayName: "Status", ReadOnly: true, Type: TypeString, XPathExtension: "Name", VisibleInSchedule: true},
			{Name: "TaskType", Object: ObjectTask, DisplayName: "Type", ReadOnly: true, Type: TypeString, XPathExtension: "Name", VisibleInSchedule: true},
			{Name: "Customer", Object: ObjectTask, DisplayName: "Customer", ReadOnly: true, Type: TypeString, VisibleInSchedule: true},
			{Name: "Comment", Object: ObjectTask, DisplayName: "Notes", Type: TypeString, MaxLength: 64},
		},
	}
}
