package girder

import (
	"context"
	"sort"

	"github.com/facette/natsort"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/logging"
	"github.com/dandiarchive/dandipub/pkg/tracing"
)

const LOG_TAG = "girder"

// LoadDraft walks a dandiset folder and returns its subjects and files.
// The folder's name is the dandiset identifier; each child folder is a subject
// and each item in a subject must carry exactly one file.
// Subjects and files come back in natural name order.
//
// Errors:
//
//   - dandi-error-source-unavailable -- when any request fails
//   - dandi-error-schema-violation -- when the dandiset folder has no metadata, or a
//     folder or file name cannot be used as an object-key segment
//   - dandi-error-cardinality-violation -- when an item has zero or several files
func (c *Client) LoadDraft(ctx context.Context, girderID string) (draft dpapi.Draft, err error) {
	ctx, span := tracing.Start(ctx, "LoadDraft")
	span.SetAttributes(attribute.String(tracing.AttrKeyGirderID, girderID))
	defer tracing.EndWithError(ctx, span, &err)

	folder, err := c.GetFolder(ctx, girderID)
	if err != nil {
		return dpapi.Draft{}, err
	}
	if folder.Meta == nil {
		return dpapi.Draft{}, dpapi.ErrorSchemaViolation("folder "+girderID, "missing meta")
	}
	if err := dpapi.CheckPathSegment("folder "+girderID, folder.Name); err != nil {
		return dpapi.Draft{}, err
	}

	subjectFolders, err := c.ListFolders(ctx, girderID)
	if err != nil {
		return dpapi.Draft{}, err
	}
	sort.SliceStable(subjectFolders, func(i, j int) bool {
		return natsort.Compare(subjectFolders[i].Name, subjectFolders[j].Name)
	})

	draft = dpapi.Draft{
		GirderID:   girderID,
		Identifier: folder.Name,
		Metadata:   folder.Meta,
		Subjects:   make([]dpapi.DraftSubject, 0, len(subjectFolders)),
	}
	for _, sf := range subjectFolders {
		subject, err := c.loadSubject(ctx, sf)
		if err != nil {
			return dpapi.Draft{}, err
		}
		draft.Subjects = append(draft.Subjects, subject)
	}
	logging.Ctx(ctx).Debug(LOG_TAG, "loaded draft %s: %d subjects, %d files",
		draft.Identifier, len(draft.Subjects), draft.FileCount())
	return draft, nil
}

func (c *Client) loadSubject(ctx context.Context, folder dpapi.RemoteFolder) (dpapi.DraftSubject, error) {
	if err := dpapi.CheckPathSegment("subject folder "+folder.ID, folder.Name); err != nil {
		return dpapi.DraftSubject{}, err
	}
	items, err := c.ListItems(ctx, folder.ID)
	if err != nil {
		return dpapi.DraftSubject{}, err
	}
	files := make([]dpapi.RemoteFile, 0, len(items))
	for _, item := range items {
		f, err := c.ItemFile(ctx, item)
		if err != nil {
			return dpapi.DraftSubject{}, err
		}
		if err := dpapi.CheckPathSegment("file "+f.ID, f.Name); err != nil {
			return dpapi.DraftSubject{}, err
		}
		if f.Meta == nil {
			f.Meta = dpapi.Metadata{}
		}
		files = append(files, f)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return natsort.Compare(files[i].Name, files[j].Name)
	})
	return dpapi.DraftSubject{
		GirderID: folder.ID,
		Name:     folder.Name,
		Files:    files,
	}, nil
}
