package document

// TextFrames returns the "text" list as frames. ok is false when the key
// is missing or not a list; entries that are not objects are skipped.
func (it *Item) TextFrames() (frames []map[string]any, ok bool) {
	list, ok := it.Meta[KeyText].([]any)
	if !ok {
		return nil, false
	}
	frames = make([]map[string]any, 0, len(list))
	for _, e := range list {
		if f, isMap := e.(map[string]any); isMap {
			frames = append(frames, f)
		}
	}
	return frames, true
}

// AppendText appends frames to the "text" list, creating it if needed.
func (it *Item) AppendText(frames ...map[string]any) {
	list, _ := it.Meta[KeyText].([]any)
	for _, f := range frames {
		list = append(list, f)
	}
	it.Set(KeyText, list)
}

// MergeText folds src into dst: src's text frames are appended to dst's,
// and src's text image is adopted if dst has none.
func MergeText(dst, src *Item) {
	if list, ok := src.Meta[KeyText].([]any); ok {
		existing, _ := dst.Meta[KeyText].([]any)
		dst.Set(KeyText, append(existing, list...))
	}
	if !dst.HasImage(AttachmentText) {
		if a := src.Attachment(AttachmentText); a != nil {
			dst.AddImage(AttachmentText, a.clone())
		}
	}
}
