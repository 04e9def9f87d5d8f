package data

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/oKV/lib/router"
	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [collection] [id]",
		Short: "Reads a single record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, router.Request{Kind: router.KindGetOne, Collection: args[0], ID: args[1]})
		},
	}
	listCmd = &cobra.Command{
		Use:   "list [collection]",
		Short: "Reads all records of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, router.Request{Kind: router.KindGetList, Collection: args[0]})
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query [collection]",
		Short: "Reads the records of the local store matching --where",
		Long: `Reads the records of the local store matching all --where conditions.
Conditions have the form field<op>value with op one of =, !=, <, <=, >, >=, ~ (contains) and ^= (prefix).`,
		Example: `  okv data query todos --routing disk --where done=false --where "title~milk" --sort-by id --limit 10`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := queryFromFlags(cmd)
			if err != nil {
				return err
			}
			return run(cmd, router.Request{Kind: router.KindGetByQuery, Collection: args[0], Query: query})
		},
	}
	createCmd = &cobra.Command{
		Use:   "create [collection] [json|@file|-]",
		Short: "Creates a record (JSON object) or many records (JSON array)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := payloadArg(cmd, args[1])
			if err != nil {
				return err
			}
			kind := router.KindCreateOne
			if payload.Kind() == store.PayloadCollection {
				kind = router.KindCreateList
			}
			return run(cmd, router.Request{Kind: kind, Collection: args[0], Payload: payload})
		},
	}
	updateCmd = &cobra.Command{
		Use:   "update [collection] [json|@file|-]",
		Short: "Replaces a record (JSON object) or many records (JSON array)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := payloadArg(cmd, args[1])
			if err != nil {
				return err
			}
			kind := router.KindUpdateOne
			if payload.Kind() == store.PayloadCollection {
				kind = router.KindUpdateList
			}
			id, _ := cmd.Flags().GetString("id")
			return run(cmd, router.Request{Kind: kind, Collection: args[0], ID: id, Payload: payload})
		},
	}
	patchCmd = &cobra.Command{
		Use:   "patch [collection] [json|@file|-]",
		Short: "Merges the fields of a JSON object into the stored record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := payloadArg(cmd, args[1])
			if err != nil {
				return err
			}
			if payload.Kind() != store.PayloadSingle {
				return fmt.Errorf("patch expects a JSON object")
			}
			id, _ := cmd.Flags().GetString("id")
			return run(cmd, router.Request{Kind: router.KindPatchOne, Collection: args[0], ID: id, Payload: payload})
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [collection] [id...]",
		Short: "Deletes records by id",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, router.Request{Kind: router.KindDeleteByIds, Collection: args[0], IDs: args[1:]})
		},
	}
	deleteAllCmd = &cobra.Command{
		Use:   "delete-all [collection]",
		Short: "Deletes every record of a collection in the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, router.Request{Kind: router.KindDeleteAll, Collection: args[0]})
		},
	}
	uploadCmd = &cobra.Command{
		Use:     "upload [collection] [file]",
		Short:   "Uploads a file to the remote service",
		Example: `  okv data upload photos ./cat.jpg --key image --field album=pets --wifi-only --queueable`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("key")
			rawFields, _ := cmd.Flags().GetStringArray("field")
			fields, err := parseFields(rawFields)
			if err != nil {
				return err
			}
			return run(cmd, router.Request{
				Kind:       router.KindUploadFile,
				Collection: args[0],
				File:       router.FileSpec{Path: args[1], Key: key, Fields: fields},
			})
		},
	}
	downloadCmd = &cobra.Command{
		Use:   "download [url] [dest]",
		Short: "Downloads the file at url (as returned by upload) to dest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := router.Request{Kind: router.KindDownloadFile, File: router.FileSpec{Dest: args[1]}}
			req.URL = args[0]
			return run(cmd, req)
		},
	}
)

func init() {
	queryCmd.Flags().StringArray("where", nil, "Condition a record must match (repeatable)")
	queryCmd.Flags().String("sort-by", "", "Field to sort by")
	queryCmd.Flags().Bool("desc", false, "Sort descending")
	queryCmd.Flags().Int("limit", 0, "Maximum number of records, 0 means all")

	updateCmd.Flags().String("id", "", "Id of the record, defaults to the id field of the record")
	patchCmd.Flags().String("id", "", "Id of the record, defaults to the id field of the record")

	uploadCmd.Flags().String("key", "", "Form field name of the file")
	uploadCmd.Flags().StringArray("field", nil, "Additional field sent with the file as key=value (repeatable)")
}

func payloadArg(cmd *cobra.Command, arg string) (store.Payload, error) {
	data, err := readInput(cmd, arg)
	if err != nil {
		return store.Payload{}, err
	}
	return decodePayload(data)
}

func queryFromFlags(cmd *cobra.Command) (store.Query, error) {
	var query store.Query
	where, _ := cmd.Flags().GetStringArray("where")
	for _, w := range where {
		cond, err := store.ParseCondition(w)
		if err != nil {
			return store.Query{}, err
		}
		query.Conditions = append(query.Conditions, cond)
	}
	query.SortBy, _ = cmd.Flags().GetString("sort-by")
	query.Desc, _ = cmd.Flags().GetBool("desc")
	query.Limit, _ = cmd.Flags().GetInt("limit")
	return query, nil
}

func parseFields(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	fields := make(map[string]string, len(raw))
	for _, f := range raw {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q (expected key=value)", f)
		}
		fields[k] = v
	}
	return fields, nil
}
